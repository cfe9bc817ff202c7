package audit

import (
	"fmt"

	"github.com/otherjamesbrown/binaudit/pkg/materials"
)

// Contamination thresholds: above heavyThreshold is heavy, anything above
// zero up to it is light.
const heavyThreshold = 0.5

// Candidate is one issue that holds for a material, with the items the
// model attributed to that issue alone.
type Candidate struct {
	Code  Code
	Items []string
}

// Auditor applies the per-material rule set against a catalog.
type Auditor struct {
	catalog *materials.Catalog
}

// NewAuditor creates an auditor over catalog.
func NewAuditor(catalog *materials.Catalog) *Auditor {
	if catalog == nil {
		catalog = materials.Default()
	}
	return &Auditor{catalog: catalog}
}

// Catalog returns the catalog the auditor checks against.
func (a *Auditor) Catalog() *materials.Catalog {
	return a.catalog
}

// Candidates lists every issue that holds for j. The result always has at
// least one entry; cc is present only when nothing else holds.
func (a *Auditor) Candidates(j Judgment) ([]Candidate, error) {
	m, ok := a.catalog.Lookup(j.Claimed)
	if !ok {
		return nil, fmt.Errorf("claimed material %q not in catalog", j.Claimed)
	}
	return candidates(m, j), nil
}

func candidates(m materials.Material, j Judgment) []Candidate {
	var out []Candidate

	// An undetermined detection is an unclear image, not a wrong category.
	if j.Detected != materials.Unknown && j.Detected != j.Claimed {
		out = append(out, Candidate{Code: CodeWC, Items: j.ItemsFor(CodeWC)})
	}
	if !j.ImageQualityOK || j.Detected == materials.Unknown {
		out = append(out, Candidate{Code: CodeUI, Items: j.ItemsFor(CodeUI)})
	}
	if m.ContaminationChecked && j.Contamination != nil {
		switch f := *j.Contamination; {
		case f > heavyThreshold:
			out = append(out, Candidate{Code: CodeHC, Items: j.ItemsFor(CodeHC)})
		case f > 0:
			out = append(out, Candidate{Code: CodeLC, Items: j.ItemsFor(CodeLC)})
		}
	}

	if len(out) == 0 {
		out = append(out, Candidate{Code: CodeCC})
	}
	return out
}

// Audit resolves j into a single verdict. lang selects the language of
// fallback item descriptions.
func (a *Auditor) Audit(j Judgment, lang string) (MaterialVerdict, error) {
	m, ok := a.catalog.Lookup(j.Claimed)
	if !ok {
		return MaterialVerdict{}, fmt.Errorf("claimed material %q not in catalog", j.Claimed)
	}

	winner := Resolve(candidates(m, j))
	items := winner.Items
	if winner.Code != CodeCC && len(items) == 0 {
		items = fallbackItems(winner.Code, j.Detected, lang)
	}

	return newVerdict(m, winner.Code, j.Confidence, a.catalog.IDString(j.Detected), items), nil
}

// fallbackItems describes an issue the model flagged without item text.
func fallbackItems(code Code, detected materials.Key, lang string) []string {
	if code == CodeWC && detected != materials.Unknown {
		return []string{materials.Label(detected, lang)}
	}
	return []string{Describe(code, lang)}
}
