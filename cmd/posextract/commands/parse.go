package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"posextract/internal/aggregate"
	"posextract/internal/config"
	"posextract/internal/csvpipeline"
	"posextract/internal/validation"
	"posextract/pkg/contracts/domain"
)

type parseOptions struct {
	location  string
	date      string
	columnMap string
	encoding  string
	delimiter string
	showRows  bool
}

func newParseCmd(root *rootOptions) *cobra.Command {
	opts := &parseOptions{}

	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Parse, validate and summarize a downloaded sales export.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logCfg := config.Default().Logging
			logCfg.Output = "console"
			logCfg.Level = "warn"
			logger, err := root.initLogger(logCfg, true)
			if err != nil {
				return err
			}

			path := args[0]
			if err := validation.NewFileValidator(logger).ValidateArtifact(path); err != nil {
				return err
			}

			columns, err := csvpipeline.LoadColumnMap(opts.columnMap)
			if err != nil {
				return err
			}

			location := opts.location
			if location == "" {
				location = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			var delim rune
			if opts.delimiter != "" {
				delim = []rune(opts.delimiter)[0]
			}

			records, stats, err := csvpipeline.NewParser(columns, logger).Parse(cmd.Context(), path, csvpipeline.Options{
				Location:  location,
				Date:      opts.date,
				Encoding:  opts.encoding,
				Delimiter: delim,
			})
			if err != nil {
				return err
			}

			checked := validation.NewService(logger).ValidateBatch(records, validation.Rules{})
			result := aggregate.LocationResult(domain.LocationOutcome{
				Location:     domain.Location{Name: location},
				Records:      checked.Valid,
				InvalidCount: len(checked.Invalid),
			})

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d rows, encoding %s, delimiter %q\n", path, stats.Rows, stats.Encoding, stats.Delimiter)
			renderLocationResults(out, []domain.LocationResult{result})
			if opts.showRows {
				renderRecords(out, result.Records)
			}
			if len(checked.Invalid) > 0 {
				renderInvalid(out, checked.Invalid)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.location, "location", "", "location name for rows without one (default: file name)")
	cmd.Flags().StringVar(&opts.date, "date", "", "report date for rows without one (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.columnMap, "column-map", "", "JSON or YAML column map file")
	cmd.Flags().StringVar(&opts.encoding, "encoding", "", "force the file encoding")
	cmd.Flags().StringVar(&opts.delimiter, "delimiter", "", "force the field delimiter")
	cmd.Flags().BoolVar(&opts.showRows, "rows", false, "print every valid record")
	return cmd
}
