package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/binaudit/pkg/audit"
	"github.com/otherjamesbrown/binaudit/pkg/codec"
)

// NewCodecCommand creates the codec command for converting verdicts
// between their full and abbreviated forms.
func NewCodecCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codec",
		Short: "Convert verdicts between full and abbreviated form",
		Long: `Convert material verdicts between the full form and the abbreviated wire
form consumed downstream:

  {"ct":298,"as":"a","cs":0.93,"rm":{"co":"lc","sv":"m","de":{"dt":"298","wi":["light stain"]}}}

Input is a single JSON object or an array, read from the given file or stdin.`,
	}
	cmd.AddCommand(newCodecEncodeCommand())
	cmd.AddCommand(newCodecDecodeCommand())
	return cmd
}

func newCodecEncodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "encode [file]",
		Short:   "Encode full verdicts",
		Example: `  binaudit codec encode verdict.json`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCodec(args, os.Stdin, cmd.OutOrStdout(), encodeVerdict)
		},
	}
}

func newCodecDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "decode [file]",
		Short:   "Decode abbreviated verdicts",
		Example: `  echo '{"ct":94,"as":"a","cs":0.9,"rm":{"co":"cc","sv":"i","de":{"dt":"94","wi":[]}}}' | binaudit codec decode`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCodec(args, os.Stdin, cmd.OutOrStdout(), decodeVerdict)
		},
	}
}

func encodeVerdict(raw json.RawMessage) (interface{}, error) {
	var v audit.MaterialVerdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return codec.Encode(v), nil
}

func decodeVerdict(raw json.RawMessage) (interface{}, error) {
	v, err := codec.Unmarshal(raw)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// runCodec applies convert to one object or to each element of an array.
func runCodec(args []string, stdin io.Reader, out io.Writer, convert func(json.RawMessage) (interface{}, error)) error {
	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	data, err := readInput(name, stdin)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("parsing input: %w", err)
		}
		results := make([]interface{}, 0, len(items))
		for i, item := range items {
			r, err := convert(item)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			results = append(results, r)
		}
		return enc.Encode(results)
	}

	r, err := convert(data)
	if err != nil {
		return err
	}
	return enc.Encode(r)
}
