package batch

import (
	"github.com/otherjamesbrown/binaudit/pkg/audit"
	"github.com/otherjamesbrown/binaudit/pkg/codec"
	"github.com/otherjamesbrown/binaudit/pkg/judge"
	"github.com/otherjamesbrown/binaudit/pkg/materials"
	"github.com/otherjamesbrown/binaudit/pkg/patterns"
)

// TokenUsage aggregates model token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (t *TokenUsage) add(u judge.Usage) {
	t.InputTokens += u.InputTokens
	t.OutputTokens += u.OutputTokens
	t.TotalTokens += u.Total()
}

// Durations reports time spent waiting on per-material audits. Judgment
// is the wall time of all step 2 fan-outs; per material times are summed
// across transactions.
type Durations struct {
	JudgmentSeconds    float64                   `json:"judgment_seconds"`
	PerMaterialSeconds map[materials.Key]float64 `json:"per_material_seconds"`
}

// Summary counts transactions and audited materials.
type Summary struct {
	Step1Passed           int `json:"step_1_passed"`
	Step1Failed           int `json:"step_1_failed"`
	Step2MaterialsAudited int `json:"step_2_materials_audited"`
}

// MaterialResult is the outcome for one material of a transaction.
type MaterialResult struct {
	Material        materials.Key     `json:"material"`
	Success         bool              `json:"success"`
	Verdict         codec.Abbreviated `json:"verdict"`
	Message         patterns.Message  `json:"message"`
	Error           string            `json:"error,omitempty"`
	DurationSeconds float64           `json:"duration_seconds"`

	verdict audit.MaterialVerdict
}

// MaterialVerdict returns the full verdict behind the abbreviated one.
func (m MaterialResult) MaterialVerdict() audit.MaterialVerdict {
	return m.verdict
}

// TransactionResult is the outcome for one transaction.
type TransactionResult struct {
	TransactionID int64                    `json:"transaction_id"`
	Completeness  audit.CompletenessResult `json:"completeness"`
	Materials     []MaterialResult         `json:"materials"`
}

// Response is the batch-level answer returned to callers.
type Response struct {
	BatchID        string              `json:"batch_id"`
	OrganizationID string              `json:"organization_id"`
	Transactions   []TransactionResult `json:"transactions"`
	TokenUsage     TokenUsage          `json:"token_usage"`
	Duration       Durations           `json:"duration"`
	Summary        Summary             `json:"summary"`
}

// TransactionRecord holds one transaction's verdicts by material.
type TransactionRecord struct {
	TransactionID int64                                   `json:"transaction_id"`
	PerMaterial   map[materials.Key]audit.MaterialVerdict `json:"per_material"`
}

// Record is the batch audit record handed to callers for persistence.
type Record struct {
	BatchID        string              `json:"batch_id"`
	OrganizationID string              `json:"organization_id"`
	TransactionIDs []int64             `json:"transaction_ids"`
	Transactions   []TransactionRecord `json:"transactions"`
	TokenUsage     TokenUsage          `json:"token_usage"`
	Duration       Durations           `json:"duration"`
}

// Record builds the persistence record for r.
func (r *Response) Record() Record {
	rec := Record{
		BatchID:        r.BatchID,
		OrganizationID: r.OrganizationID,
		TransactionIDs: make([]int64, 0, len(r.Transactions)),
		Transactions:   make([]TransactionRecord, 0, len(r.Transactions)),
		TokenUsage:     r.TokenUsage,
		Duration:       r.Duration,
	}
	for _, tx := range r.Transactions {
		rec.TransactionIDs = append(rec.TransactionIDs, tx.TransactionID)
		tr := TransactionRecord{
			TransactionID: tx.TransactionID,
			PerMaterial:   make(map[materials.Key]audit.MaterialVerdict, len(tx.Materials)),
		}
		for _, m := range tx.Materials {
			tr.PerMaterial[m.Material] = m.verdict
		}
		rec.Transactions = append(rec.Transactions, tr)
	}
	return rec
}

// Verdicts returns every material verdict in response order.
func (r *Response) Verdicts() []audit.MaterialVerdict {
	var out []audit.MaterialVerdict
	for _, tx := range r.Transactions {
		for _, m := range tx.Materials {
			out = append(out, m.verdict)
		}
	}
	return out
}

// Failed counts materials that ended in a system-generated failure.
func (r *Response) Failed() int {
	n := 0
	for _, tx := range r.Transactions {
		for _, m := range tx.Materials {
			if !m.Success {
				n++
			}
		}
	}
	return n
}

// Rejected counts rejected materials.
func (r *Response) Rejected() int {
	n := 0
	for _, tx := range r.Transactions {
		for _, m := range tx.Materials {
			if !m.verdict.Approved() {
				n++
			}
		}
	}
	return n
}
