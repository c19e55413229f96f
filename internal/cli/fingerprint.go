package cli

import (
	"encoding/json"
	"io"

	"github.com/rpattn/rowmap/internal/fingerprint"
	"github.com/rpattn/rowmap/internal/tabular"

	"github.com/spf13/cobra"
)

type fingerprintOptions struct {
	File      string
	HeaderRow int
	Algorithm string
}

func newFingerprintCommand(a *app) *cobra.Command {
	opts := fingerprintOptions{}
	cmd := &cobra.Command{
		Use:   "fingerprint [header...]",
		Short: "Normalize a header row and print its hash",
		Long: "Normalize a header row and print its hash. Headers are taken from the " +
			"arguments, or from the header row of a CSV or XLSX file given with --file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFingerprint(cmd, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.File, "file", "", "CSV or XLSX file to read the header row from")
	cmd.Flags().IntVar(&opts.HeaderRow, "header-row", -1, "Zero based header row index (default: first non-empty row)")
	cmd.Flags().StringVar(&opts.Algorithm, "algorithm", fingerprint.DefaultAlgorithm, "Hash algorithm")
	_ = a.v.BindPFlag("fingerprint.algorithm", cmd.Flags().Lookup("algorithm"))
	return cmd
}

func (a *app) runFingerprint(cmd *cobra.Command, opts fingerprintOptions, args []string) error {
	headers := args
	if opts.File != "" {
		if len(args) > 0 {
			return invalidArgument("pass headers as arguments or --file, not both", nil)
		}
		table, err := loadTable(opts.File, opts.HeaderRow, cmd.InOrStdin())
		if err != nil {
			return err
		}
		headers = table.Headers
	}
	if len(headers) == 0 {
		return invalidArgument("no headers given", nil)
	}

	algorithm := a.resolveString(cmd, opts.Algorithm, "fingerprint.algorithm", "algorithm")
	fp, err := fingerprint.Compute(headers, algorithm)
	if err != nil {
		return err
	}
	a.logger.Debug().Str("hash", fp.Hash).Str("algorithm", fp.Algorithm).Msg("fingerprint computed")
	return writeOutput(cmd, fp)
}

func loadTable(path string, headerRow int, stdin io.Reader) (tabular.Table, error) {
	payload, err := readInput(path, stdin)
	if err != nil {
		return tabular.Table{}, invalidArgument("failed to read "+path, err)
	}
	var index *int
	if headerRow >= 0 {
		index = &headerRow
	}
	name := path
	if path == "-" {
		name = "stdin.csv"
	}
	table, err := tabular.Parse(name, payload, index)
	if err != nil {
		return tabular.Table{}, invalidArgument("failed to parse "+path, err)
	}
	return table, nil
}

func writeOutput(cmd *cobra.Command, payload any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(payload)
}
