package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/medverify/medverify/internal/scan"
)

func newScanCmd() *cobra.Command {
	var (
		partial bool
		noCheck bool
		format  string
	)

	cmd := &cobra.Command{
		Use:   "scan <image>",
		Short: "Scan a package photo and verify the product",
		Long: `Scan a package photo: detect the title region, OCR it, extract the
registration number, and verify whichever the scan produced.

Requires the detector and OCR sidecars configured under vision: in the
config file (or MEDVERIFY_DETECTOR_URL / MEDVERIFY_OCR_URL).

Examples:
  medverify scan package.jpg
  medverify scan package.jpg --partial --format json
  medverify scan package.jpg --no-verify`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			app, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.pipeline().Process(cmd.Context(), data,
				scan.ProcessOptions{ReturnPartial: partial})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if noCheck {
				return printScan(cmd, res, format)
			}

			verified, err := app.service.VerifyScan(cmd.Context(), res)
			if err != nil {
				return err
			}
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(verified)
			}

			if err := printScan(cmd, res, format); err != nil {
				return err
			}
			if verified.NeedsInput {
				fmt.Fprintln(out, "scan produced nothing usable:")
				for _, s := range verified.Suggestions {
					fmt.Fprintf(out, "  - %s\n", s)
				}
				return nil
			}
			fmt.Fprintln(out)
			return printResult(cmd, verified.Result, format)
		},
	}

	cmd.Flags().BoolVar(&partial, "partial", false, "Return the first finished task instead of waiting out the full budget")
	cmd.Flags().BoolVar(&noCheck, "no-verify", false, "Print the raw scan result without verifying")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func printScan(cmd *cobra.Command, res *scan.Result, format string) error {
	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(out, "stage:  %s\n", res.Stage)
	if res.TitleText != "" {
		fmt.Fprintf(out, "title:  %q (conf %.2f)\n", res.TitleText, res.TitleConf)
	}
	if res.BPOMNumber != "" {
		fmt.Fprintf(out, "number: %s (conf %.2f)\n", res.BPOMNumber, res.NumberConf)
	} else if res.RegexSkipped {
		fmt.Fprintln(out, "number: skipped (title detection below gate)")
	}
	if res.Match != nil && res.Match.Hit != nil && res.Match.Hit.Product != nil {
		fmt.Fprintf(out, "match:  %s [%s, %.2f]\n",
			res.Match.Hit.Product.Name, res.Match.Source, res.Match.Confidence)
	}
	fmt.Fprintf(out, "took:   %dms\n", res.Timings.TotalMS)
	return nil
}
