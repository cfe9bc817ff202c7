package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	auerrors "github.com/otherjamesbrown/binaudit/pkg/errors"
	"github.com/otherjamesbrown/binaudit/pkg/materials"
)

// ModelOutput is the free-form per-material output of the external model.
// Scalar fields are kept raw because models emit them in several shapes.
type ModelOutput struct {
	ClaimedType   json.RawMessage `json:"claimed_type,omitempty"`
	DetectedType  json.RawMessage `json:"detected_type"`
	Confidence    json.RawMessage `json:"confidence"`
	ImageQuality  json.RawMessage `json:"image_quality,omitempty"`
	Contamination json.RawMessage `json:"contamination,omitempty"`
	Issues        []ModelIssue    `json:"issues,omitempty"`
}

// ModelIssue groups the items the model attributes to one issue.
type ModelIssue struct {
	Type  string   `json:"type"`
	Items []string `json:"items"`
}

var issueCodes = map[string]Code{
	"wrong_category":      CodeWC,
	"wrong_type":          CodeWC,
	"unclear_image":       CodeUI,
	"unidentifiable":      CodeUI,
	"heavy_contamination": CodeHC,
	"light_contamination": CodeLC,
	"wc":                  CodeWC,
	"ui":                  CodeUI,
	"hc":                  CodeHC,
	"lc":                  CodeLC,
}

var qualityOK = map[string]bool{
	"ok": true, "good": true, "clear": true, "pass": true, "true": true,
	"blurry": false, "blur": false, "dark": false, "opaque_container": false,
	"indeterminate": false, "unclear": false, "bad": false, "false": false,
}

// Normalizer converts raw model output into canonical judgments.
type Normalizer struct {
	catalog *materials.Catalog
}

// NewNormalizer creates a normalizer over catalog.
func NewNormalizer(catalog *materials.Catalog) *Normalizer {
	if catalog == nil {
		catalog = materials.Default()
	}
	return &Normalizer{catalog: catalog}
}

// Normalize parses raw output for the material it was requested for. Any
// structural problem is reported wrapping auerrors.ErrMalformedJudgment.
func (n *Normalizer) Normalize(material materials.Key, raw []byte) (Judgment, error) {
	var out ModelOutput
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return Judgment{}, malformed("decode output: %v", err)
	}
	return n.NormalizeOutput(material, out)
}

// NormalizeOutput is Normalize for already-decoded output.
func (n *Normalizer) NormalizeOutput(material materials.Key, out ModelOutput) (Judgment, error) {
	if _, ok := n.catalog.Lookup(material); !ok {
		return Judgment{}, malformed("material %q not in catalog", material)
	}
	j := Judgment{Claimed: material, ImageQualityOK: true, Items: map[Code][]string{}}

	if s, null, err := scalar(out.ClaimedType); err != nil {
		return Judgment{}, malformed("claimed_type: %v", err)
	} else if !null {
		claimed, ok := n.catalog.ParseKey(s)
		if !ok || claimed != material {
			return Judgment{}, malformed("claimed_type %q does not match requested material %q", s, material)
		}
	}

	s, null, err := scalar(out.DetectedType)
	if err != nil {
		return Judgment{}, malformed("detected_type: %v", err)
	}
	if !null {
		if k, ok := n.catalog.ParseKey(s); ok {
			j.Detected = k
		}
	}

	conf, err := fraction(out.Confidence)
	if err != nil {
		return Judgment{}, malformed("confidence: %v", err)
	}
	if conf == nil {
		return Judgment{}, malformed("confidence is required")
	}
	j.Confidence = *conf

	if s, null, err := scalar(out.ImageQuality); err != nil {
		return Judgment{}, malformed("image_quality: %v", err)
	} else if !null {
		ok, known := qualityOK[strings.ToLower(strings.TrimSpace(s))]
		j.ImageQualityOK = known && ok
	}

	if j.Contamination, err = fraction(out.Contamination); err != nil {
		return Judgment{}, malformed("contamination: %v", err)
	}

	for _, issue := range out.Issues {
		code, ok := issueCodes[strings.ToLower(strings.TrimSpace(issue.Type))]
		if !ok {
			continue
		}
		for _, item := range issue.Items {
			if item = strings.TrimSpace(item); item != "" {
				j.Items[code] = append(j.Items[code], item)
			}
		}
	}

	return j, nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", auerrors.ErrMalformedJudgment, fmt.Sprintf(format, args...))
}

// scalar reads a JSON string, number or bool as text. null reports an absent
// or null value.
func scalar(raw json.RawMessage) (s string, null bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", true, nil
	}
	switch raw[0] {
	case '"':
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, err
		}
		return s, strings.TrimSpace(s) == "", nil
	case '{', '[':
		return "", false, fmt.Errorf("expected scalar, got %s", raw)
	default:
		return string(raw), false, nil
	}
}

// fraction reads a 0–1 fraction, accepting 0–100 percentages and "%"
// suffixed strings, clamped into [0,1].
func fraction(raw json.RawMessage) (*float64, error) {
	s, null, err := scalar(raw)
	if err != nil || null {
		return nil, err
	}
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("not a number: %q", s)
	}
	if percent || f > 1 {
		f /= 100
	}
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return &f, nil
}
