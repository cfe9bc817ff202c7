package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_Precedence(t *testing.T) {
	tests := []struct {
		name  string
		cands []Candidate
		want  Code
	}{
		{"empty resolves to cc", nil, CodeCC},
		{"only cc", []Candidate{{Code: CodeCC}}, CodeCC},
		{"critical beats minor", []Candidate{{Code: CodeLC}, {Code: CodeHC}}, CodeHC},
		{"wc before ui", []Candidate{{Code: CodeUI}, {Code: CodeWC}}, CodeWC},
		{"ui before hc", []Candidate{{Code: CodeHC}, {Code: CodeUI}}, CodeUI},
		{"minor beats info", []Candidate{{Code: CodeCC}, {Code: CodeLC}}, CodeLC},
		{"all", []Candidate{{Code: CodeLC}, {Code: CodeHC}, {Code: CodeUI}, {Code: CodeWC}}, CodeWC},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.cands).Code)
		})
	}
}

func TestResolve_KeepsOnlyWinnerItems(t *testing.T) {
	got := Resolve([]Candidate{
		{Code: CodeLC, Items: []string{"B"}},
		{Code: CodeWC, Items: []string{"A"}},
		{Code: CodeUI, Items: []string{"C"}},
	})
	assert.Equal(t, CodeWC, got.Code)
	assert.Equal(t, []string{"A"}, got.Items)
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	cands := []Candidate{{Code: CodeLC, Items: []string{"B"}}, {Code: CodeWC, Items: []string{"A"}}}
	winner := Resolve(cands)
	winner.Items[0] = "changed"

	assert.Equal(t, CodeLC, cands[0].Code)
	assert.Equal(t, "A", cands[1].Items[0])
}
