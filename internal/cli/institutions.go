package cli

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ppiankov/micr/internal/validate"
)

var institutionsJSON bool

// institutionsCmd represents the institutions command
var institutionsCmd = &cobra.Command{
	Use:   "institutions [code]",
	Short: "List known Canadian financial institution numbers",
	Long: `List the institution registry used to validate the institution
component, including overrides from the micr.institutions config section.

Example:
  micr institutions
  micr institutions 003
  micr institutions --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInstitutions,
}

func init() {
	rootCmd.AddCommand(institutionsCmd)

	institutionsCmd.Flags().BoolVar(&institutionsJSON, "json", false, "print as JSON")
}

func runInstitutions(cmd *cobra.Command, args []string) error {
	registry := validate.NewInstitutionRegistry(cfg.MICR.Institutions)
	out := cmd.OutOrStdout()

	list := registry.All()
	if len(args) == 1 {
		code := args[0]
		if !registry.Known(code) {
			return eris.Errorf("unknown institution number %q", code)
		}
		list = []validate.Institution{{Code: code, Name: registry.Name(code)}}
	}

	if institutionsJSON {
		data, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal institutions")
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	for _, inst := range list {
		fmt.Fprintf(out, "%s  %s\n", inst.Code, inst.Name)
	}
	if len(args) == 0 {
		fmt.Fprintf(out, "\n%d institutions\n", registry.Len())
	}
	return nil
}
