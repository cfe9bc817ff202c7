package batch

import (
	"fmt"

	auerrors "github.com/otherjamesbrown/binaudit/pkg/errors"
	"github.com/otherjamesbrown/binaudit/pkg/materials"
)

// Submission is the evidence submitted for one material.
type Submission struct {
	Material string   `json:"material" yaml:"material"`
	Images   []string `json:"images" yaml:"images"`
}

// Transaction is one disposal transaction with its evidence.
type Transaction struct {
	ID          int64        `json:"transaction_id" yaml:"transaction_id"`
	Submissions []Submission `json:"materials" yaml:"materials"`
}

// Request is one batch audit call.
type Request struct {
	BatchID        string        `json:"batch_id,omitempty" yaml:"batch_id"`
	OrganizationID string        `json:"organization_id" yaml:"organization_id"`
	Lang           string        `json:"lang,omitempty" yaml:"lang"`
	Transactions   []Transaction `json:"transactions" yaml:"transactions"`
}

// TransactionIDs returns the transaction IDs in request order.
func (r Request) TransactionIDs() []int64 {
	ids := make([]int64, 0, len(r.Transactions))
	for _, tx := range r.Transactions {
		ids = append(ids, tx.ID)
	}
	return ids
}

// evidence is a validated submission.
type evidence struct {
	material materials.Material
	images   []string
}

// validate checks the hard preconditions of a request and resolves every
// transaction's evidence, keyed by material. Only materials with at least
// one image count as present.
func (r Request) validate(catalog *materials.Catalog) ([]map[materials.Key]evidence, error) {
	if len(r.Transactions) == 0 {
		return nil, fmt.Errorf("%w: batch has no transactions", auerrors.ErrValidation)
	}

	seenTx := make(map[int64]bool, len(r.Transactions))
	out := make([]map[materials.Key]evidence, 0, len(r.Transactions))
	for _, tx := range r.Transactions {
		if seenTx[tx.ID] {
			return nil, fmt.Errorf("%w: duplicate transaction %d", auerrors.ErrValidation, tx.ID)
		}
		seenTx[tx.ID] = true

		present := make(map[materials.Key]evidence, len(tx.Submissions))
		for _, s := range tx.Submissions {
			key, ok := catalog.ParseKey(s.Material)
			if !ok {
				return nil, fmt.Errorf("%w: transaction %d: unknown material %q", auerrors.ErrValidation, tx.ID, s.Material)
			}
			if _, dup := present[key]; dup {
				return nil, fmt.Errorf("%w: transaction %d: material %s submitted twice", auerrors.ErrValidation, tx.ID, key)
			}
			if len(s.Images) == 0 {
				continue
			}
			m, _ := catalog.Lookup(key)
			present[key] = evidence{material: m, images: s.Images}
		}
		if len(present) == 0 {
			return nil, fmt.Errorf("%w: transaction %d has no materials with evidence", auerrors.ErrValidation, tx.ID)
		}
		out = append(out, present)
	}
	return out, nil
}
