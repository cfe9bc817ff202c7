// Package audit implements the audit decision engine: completeness gating,
// per-material candidate issues, severity resolution and verdict assembly.
// Everything in this package is pure and safe for concurrent use.
package audit

import (
	"fmt"
	"strings"
)

// Code is the closed set of audit result codes.
type Code string

const (
	CodeNCM Code = "ncm" // mandatory materials missing (step 1 only)
	CodeCC  Code = "cc"  // correct, no issue
	CodeWC  Code = "wc"  // wrong category
	CodeUI  Code = "ui"  // unclear image
	CodeHC  Code = "hc"  // heavy contamination
	CodeLC  Code = "lc"  // light contamination
	CodePE  Code = "pe"  // parse error (system generated)
	CodeIE  Code = "ie"  // image error (system generated)
)

// Severity ranks codes when several issues hold at once.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMinor    Severity = "minor"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityMinor:
		return 1
	default:
		return 0
	}
}

// Status is the approve/reject outcome of a verdict.
type Status string

const (
	StatusApprove Status = "approve"
	StatusReject  Status = "reject"
)

// StatusFor derives the audit status from a severity.
func StatusFor(s Severity) Status {
	if s == SeverityCritical {
		return StatusReject
	}
	return StatusApprove
}

type codeInfo struct {
	name            string
	severity        Severity
	precedence      int // tie-break within a severity, lower wins
	systemGenerated bool
}

var codeTable = map[Code]codeInfo{
	CodeWC:  {name: "wrong_category", severity: SeverityCritical, precedence: 0},
	CodeUI:  {name: "unclear_image", severity: SeverityCritical, precedence: 1},
	CodeHC:  {name: "heavy_contamination", severity: SeverityCritical, precedence: 2},
	CodeLC:  {name: "light_contamination", severity: SeverityMinor, precedence: 3},
	CodeCC:  {name: "correct", severity: SeverityInfo, precedence: 4},
	CodeNCM: {name: "not_complete_materials", severity: SeverityCritical, precedence: 5},
	CodePE:  {name: "parse_error", severity: SeverityCritical, precedence: 6, systemGenerated: true},
	CodeIE:  {name: "image_error", severity: SeverityCritical, precedence: 7, systemGenerated: true},
}

// Codes returns every code in precedence order.
func Codes() []Code {
	return []Code{CodeWC, CodeUI, CodeHC, CodeLC, CodeCC, CodeNCM, CodePE, CodeIE}
}

// ParseCode accepts an abbreviated code ("wc") or its long name
// ("wrong_category").
func ParseCode(s string) (Code, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if _, ok := codeTable[Code(s)]; ok {
		return Code(s), nil
	}
	for c, info := range codeTable {
		if info.name == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown audit code %q", s)
}

// Valid reports whether c is a known code.
func (c Code) Valid() bool {
	_, ok := codeTable[c]
	return ok
}

// Severity returns the fixed severity of c.
func (c Code) Severity() Severity {
	return codeTable[c].severity
}

// Name returns the long name of c, e.g. "wrong_category".
func (c Code) Name() string {
	return codeTable[c].name
}

// SystemGenerated reports whether c is only ever produced by the engine
// itself, never by a model judgment.
func (c Code) SystemGenerated() bool {
	return codeTable[c].systemGenerated
}

func (c Code) precedence() int {
	if info, ok := codeTable[c]; ok {
		return info.precedence
	}
	return len(codeTable)
}
