package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	auerrors "github.com/otherjamesbrown/binaudit/pkg/errors"
	"github.com/otherjamesbrown/binaudit/pkg/materials"
)

// Fixture is one canned model answer.
type Fixture struct {
	TransactionID int64           `json:"transaction_id"`
	Material      string          `json:"material"`
	Output        json.RawMessage `json:"output,omitempty"`
	Raw           string          `json:"raw,omitempty"`
	Error         string          `json:"error,omitempty"`
	InputTokens   int             `json:"input_tokens"`
	OutputTokens  int             `json:"output_tokens"`
}

// Fixture error kinds.
const (
	FixtureErrorEvidence = "evidence"
	FixtureErrorTimeout  = "timeout"
)

type fixtureKey struct {
	tx       int64
	material materials.Key
}

// Static answers from a fixed set of fixtures keyed by transaction and
// material. A missing fixture is reported as unavailable evidence.
type Static struct {
	model    string
	fixtures map[fixtureKey]Fixture
}

// NewStatic builds a judge from fixtures. Material names are resolved
// through catalog.
func NewStatic(catalog *materials.Catalog, fixtures []Fixture) (*Static, error) {
	if catalog == nil {
		catalog = materials.Default()
	}
	s := &Static{model: "static", fixtures: make(map[fixtureKey]Fixture, len(fixtures))}
	for i, f := range fixtures {
		key, ok := catalog.ParseKey(f.Material)
		if !ok {
			return nil, fmt.Errorf("fixture %d: unknown material %q", i, f.Material)
		}
		k := fixtureKey{tx: f.TransactionID, material: key}
		if _, dup := s.fixtures[k]; dup {
			return nil, fmt.Errorf("fixture %d: duplicate for transaction %d material %s", i, f.TransactionID, key)
		}
		s.fixtures[k] = f
	}
	return s, nil
}

// LoadStatic reads a JSON array of fixtures from path.
func LoadStatic(path string, catalog *materials.Catalog) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read judgments: %w", err)
	}
	var fixtures []Fixture
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return nil, fmt.Errorf("parse judgments %s: %w", path, err)
	}
	return NewStatic(catalog, fixtures)
}

// Judge returns the fixture for req.
func (s *Static) Judge(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	f, ok := s.fixtures[fixtureKey{tx: req.TransactionID, material: req.Material}]
	if !ok {
		return Response{}, fmt.Errorf("%w: no judgment for transaction %d material %s",
			auerrors.ErrEvidenceUnavailable, req.TransactionID, req.Material)
	}

	usage := Usage{InputTokens: f.InputTokens, OutputTokens: f.OutputTokens}
	switch f.Error {
	case "":
	case FixtureErrorEvidence:
		return Response{Usage: usage, Model: s.model}, fmt.Errorf("%w: %s", auerrors.ErrEvidenceUnavailable, req.Material)
	case FixtureErrorTimeout:
		return Response{Usage: usage, Model: s.model}, context.DeadlineExceeded
	default:
		return Response{Usage: usage, Model: s.model}, fmt.Errorf("model error: %s", f.Error)
	}

	out := []byte(f.Raw)
	if len(f.Output) > 0 {
		out = f.Output
	}
	return Response{Output: out, Usage: usage, Model: s.model}, nil
}
