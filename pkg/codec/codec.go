// Package codec converts material verdicts to and from the abbreviated wire
// form used by downstream consumers.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/otherjamesbrown/binaudit/pkg/audit"
)

// Abbreviated is the wire form of a MaterialVerdict.
//
//	{"ct":298,"as":"a","cs":0.93,"rm":{"co":"lc","sv":"m","de":{"dt":"298","wi":["light stain"]}}}
type Abbreviated struct {
	ClaimedType int     `json:"ct"`
	Status      string  `json:"as"`
	Confidence  float64 `json:"cs"`
	Result      Result  `json:"rm"`
}

// Result carries the resolved code and its detail.
type Result struct {
	Code     string `json:"co"`
	Severity string `json:"sv"`
	Detail   Detail `json:"de"`
}

// Detail carries the detected type and the problem items.
type Detail struct {
	DetectedType string   `json:"dt"`
	WrongItems   []string `json:"wi"`
}

var (
	statusToWire = map[audit.Status]string{
		audit.StatusApprove: "a",
		audit.StatusReject:  "r",
	}
	severityToWire = map[audit.Severity]string{
		audit.SeverityInfo:     "i",
		audit.SeverityMinor:    "m",
		audit.SeverityCritical: "c",
	}
	statusFromWire   = invert(statusToWire)
	severityFromWire = invert(severityToWire)
)

func invert[K, V comparable](m map[K]V) map[V]K {
	out := make(map[V]K, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// Encode converts v to its abbreviated form. wi is always a JSON array.
func Encode(v audit.MaterialVerdict) Abbreviated {
	items := make([]string, len(v.WrongItems))
	copy(items, v.WrongItems)
	return Abbreviated{
		ClaimedType: v.ClaimedTypeID,
		Status:      statusToWire[v.Status],
		Confidence:  v.Confidence,
		Result: Result{
			Code:     string(v.Code),
			Severity: severityToWire[v.Severity],
			Detail: Detail{
				DetectedType: v.DetectedTypeID,
				WrongItems:   items,
			},
		},
	}
}

// Decode converts an abbreviated verdict back. Unknown status, severity or
// code values are rejected.
func Decode(a Abbreviated) (audit.MaterialVerdict, error) {
	status, ok := statusFromWire[a.Status]
	if !ok {
		return audit.MaterialVerdict{}, fmt.Errorf("unknown status %q", a.Status)
	}
	sev, ok := severityFromWire[a.Result.Severity]
	if !ok {
		return audit.MaterialVerdict{}, fmt.Errorf("unknown severity %q", a.Result.Severity)
	}
	code := audit.Code(a.Result.Code)
	if !code.Valid() {
		return audit.MaterialVerdict{}, fmt.Errorf("unknown code %q", a.Result.Code)
	}

	items := make([]string, len(a.Result.Detail.WrongItems))
	copy(items, a.Result.Detail.WrongItems)
	return audit.MaterialVerdict{
		ClaimedTypeID:  a.ClaimedType,
		Status:         status,
		Confidence:     a.Confidence,
		Code:           code,
		Severity:       sev,
		DetectedTypeID: a.Result.Detail.DetectedType,
		WrongItems:     items,
	}, nil
}

// EncodeAll encodes verdicts in order.
func EncodeAll(vs []audit.MaterialVerdict) []Abbreviated {
	out := make([]Abbreviated, 0, len(vs))
	for _, v := range vs {
		out = append(out, Encode(v))
	}
	return out
}

// Marshal encodes v and serializes it to JSON.
func Marshal(v audit.MaterialVerdict) ([]byte, error) {
	return json.Marshal(Encode(v))
}

// Unmarshal parses abbreviated JSON into a verdict.
func Unmarshal(data []byte) (audit.MaterialVerdict, error) {
	var a Abbreviated
	if err := json.Unmarshal(data, &a); err != nil {
		return audit.MaterialVerdict{}, fmt.Errorf("decode abbreviated verdict: %w", err)
	}
	return Decode(a)
}
