package audit

import "github.com/otherjamesbrown/binaudit/pkg/materials"

// Judgment is the canonical per-material model judgment.
type Judgment struct {
	Claimed        materials.Key
	Detected       materials.Key // materials.Unknown when undetermined
	Confidence     float64
	ImageQualityOK bool
	Contamination  *float64 // nil when the model made no estimate
	Items          map[Code][]string
}

// ItemsFor returns the problem items the model attributed to code.
func (j Judgment) ItemsFor(code Code) []string {
	items := j.Items[code]
	if len(items) == 0 {
		return nil
	}
	out := make([]string, len(items))
	copy(out, items)
	return out
}
