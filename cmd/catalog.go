package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/binaudit/config"
	"github.com/otherjamesbrown/binaudit/pkg/materials"
)

// catalogEntry is one material as shown by the catalog command.
type catalogEntry struct {
	Key                  materials.Key `json:"key" yaml:"key"`
	ID                   int           `json:"id" yaml:"id"`
	Label                string        `json:"label" yaml:"label"`
	Mandatory            bool          `json:"mandatory" yaml:"mandatory"`
	ContaminationChecked bool          `json:"contamination_checked" yaml:"contamination_checked"`
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(loadCfg func() (*config.ServiceConfig, error)) *cobra.Command {
	if loadCfg == nil {
		loadCfg = loadConfig
	}
	var lang, output string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the material catalog",
		Long: `List the materials that can be audited, with their numeric IDs, whether
they are required for a complete transaction and whether contamination is
assessed for them.`,
		Example: `  binaudit catalog
  binaudit catalog --lang ko -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			format, err := resolveFormat(output, cfg)
			if err != nil {
				return err
			}
			if lang == "" {
				lang = cfg.Lang
			}
			return outputCatalog(cmd.OutOrStdout(), format, catalogEntries(materials.Default(), lang))
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "Locale for labels (en, ko, ja)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func catalogEntries(c *materials.Catalog, lang string) []catalogEntry {
	out := make([]catalogEntry, 0, len(c.All()))
	for _, m := range c.All() {
		out = append(out, catalogEntry{
			Key:                  m.Key,
			ID:                   m.ID,
			Label:                materials.Label(m.Key, lang),
			Mandatory:            m.Mandatory,
			ContaminationChecked: m.ContaminationChecked,
		})
	}
	return out
}

func outputCatalog(out io.Writer, format config.OutputFormat, entries []catalogEntry) error {
	if format != config.OutputFormatText {
		return writeStructured(out, format, entries)
	}
	yesNo := map[bool]string{true: "yes", false: "no"}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tID\tLABEL\tMANDATORY\tCONTAMINATION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", e.Key, e.ID, e.Label, yesNo[e.Mandatory], yesNo[e.ContaminationChecked])
	}
	return w.Flush()
}
