package audit

import (
	"strconv"

	"github.com/otherjamesbrown/binaudit/pkg/materials"
)

// CompletenessStatus is the step 1 outcome.
type CompletenessStatus string

const (
	CompletenessPass CompletenessStatus = "pass"
	CompletenessFail CompletenessStatus = "fail"
)

// CompletenessResult records which mandatory materials carried evidence.
// All key lists are in catalog order.
type CompletenessResult struct {
	Required []materials.Key     `json:"required"`
	Present  []materials.Key     `json:"present"`
	Missing  []materials.Key     `json:"missing"`
	Status   CompletenessStatus `json:"status"`
}

// Passed reports whether every mandatory material is present.
func (r CompletenessResult) Passed() bool {
	return r.Status == CompletenessPass
}

// CheckCompleteness compares the materials that carry evidence against the
// catalog's mandatory set. Keys unknown to the catalog are ignored.
func CheckCompleteness(catalog *materials.Catalog, present []materials.Key) CompletenessResult {
	have := make(map[materials.Key]bool, len(present))
	for _, k := range present {
		have[k] = true
	}

	res := CompletenessResult{
		Required: catalog.Mandatory(),
		Present:  []materials.Key{},
		Missing:  []materials.Key{},
		Status:   CompletenessPass,
	}
	for _, m := range catalog.All() {
		if have[m.Key] {
			res.Present = append(res.Present, m.Key)
		} else if m.Mandatory {
			res.Missing = append(res.Missing, m.Key)
		}
	}
	if len(res.Missing) > 0 {
		res.Status = CompletenessFail
	}
	return res
}

// IncompleteVerdict is the ncm verdict reported for a submitted material of a
// transaction that failed step 1. wrong_items names the missing materials.
func IncompleteVerdict(m materials.Material, missing []materials.Key, lang string) MaterialVerdict {
	items := make([]string, 0, len(missing))
	for _, k := range missing {
		items = append(items, materials.Label(k, lang))
	}
	if len(items) == 0 {
		items = append(items, Describe(CodeNCM, lang))
	}
	return newVerdict(m, CodeNCM, 0, strconv.Itoa(materials.UnknownID), items)
}
