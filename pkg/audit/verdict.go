package audit

import (
	"fmt"
	"math"
	"strconv"

	"github.com/otherjamesbrown/binaudit/pkg/materials"
)

// MaterialVerdict is the resolved outcome for one audited material.
type MaterialVerdict struct {
	ClaimedTypeID  int      `json:"claimed_type_id"`
	Status         Status   `json:"audit_status"`
	Confidence     float64  `json:"confidence"`
	Code           Code     `json:"code"`
	Severity       Severity `json:"severity"`
	DetectedTypeID string   `json:"detected_type_id"`
	WrongItems     []string `json:"wrong_items"`
}

// Approved reports whether the verdict approves the material.
func (v MaterialVerdict) Approved() bool {
	return v.Status == StatusApprove
}

// Validate checks the verdict invariants.
func (v MaterialVerdict) Validate() error {
	if !v.Code.Valid() {
		return fmt.Errorf("unknown code %q", v.Code)
	}
	if v.Severity != v.Code.Severity() {
		return fmt.Errorf("code %s has severity %s, got %s", v.Code, v.Code.Severity(), v.Severity)
	}
	if v.Status != StatusFor(v.Severity) {
		return fmt.Errorf("severity %s requires status %s, got %s", v.Severity, StatusFor(v.Severity), v.Status)
	}
	if (len(v.WrongItems) == 0) != (v.Code == CodeCC) {
		return fmt.Errorf("wrong_items must be empty exactly when code is cc (code %s, %d items)", v.Code, len(v.WrongItems))
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", v.Confidence)
	}
	if _, err := strconv.Atoi(v.DetectedTypeID); err != nil {
		return fmt.Errorf("detected_type_id %q is not numeric", v.DetectedTypeID)
	}
	return nil
}

// RoundConfidence rounds to two decimals and clamps into [0,1].
func RoundConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return math.Round(c*100) / 100
}

func newVerdict(m materials.Material, code Code, confidence float64, detectedID string, items []string) MaterialVerdict {
	sev := code.Severity()
	wi := make([]string, 0, len(items))
	if code != CodeCC {
		wi = append(wi, items...)
	}
	return MaterialVerdict{
		ClaimedTypeID:  m.ID,
		Status:         StatusFor(sev),
		Confidence:     RoundConfidence(confidence),
		Code:           code,
		Severity:       sev,
		DetectedTypeID: detectedID,
		WrongItems:     wi,
	}
}

// FailureVerdict is the terminal verdict for a material whose audit could not
// run: code must be CodePE or CodeIE.
func FailureVerdict(m materials.Material, code Code, lang string) MaterialVerdict {
	return newVerdict(m, code, 0, strconv.Itoa(materials.UnknownID), []string{Describe(code, lang)})
}
