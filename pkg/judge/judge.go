// Package judge defines the boundary to the external vision model that
// inspects evidence photos and returns a raw per-material judgment.
package judge

import (
	"context"

	"github.com/otherjamesbrown/binaudit/pkg/materials"
)

// Request asks for a judgment of one material's evidence.
type Request struct {
	OrganizationID string
	TransactionID  int64
	Material       materials.Key
	MaterialID     int
	Images         []string
	Lang           string
}

// Usage is the token accounting of one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{InputTokens: u.InputTokens + o.InputTokens, OutputTokens: u.OutputTokens + o.OutputTokens}
}

// Response carries the model's raw output. Usage is reported even when the
// output later fails to parse.
type Response struct {
	Output []byte
	Usage  Usage
	Model  string
}

// Judge produces a raw judgment for one material. Implementations own any
// retry policy; errors are terminal for the material.
type Judge interface {
	Judge(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to Judge.
type Func func(ctx context.Context, req Request) (Response, error)

// Judge calls f.
func (f Func) Judge(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
