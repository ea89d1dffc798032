package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/medverify/medverify/internal/verify"
)

func newVerifyCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "verify <code or product name>",
		Short: "Verify a registration code or product name",
		Long: `Verify a product against the catalog.

Examples:
  medverify verify DKL1234567890A1
  medverify verify "paracetamol 500 mg"
  medverify verify "bodrex flu" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.service.VerifyQuery(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printResult(cmd, res, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func printResult(cmd *cobra.Command, res *verify.Result, format string) error {
	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(out, "decision:   %s\n", res.Decision)
	fmt.Fprintf(out, "confidence: %.2f\n", res.Confidence)
	if res.TopSource != "" {
		fmt.Fprintf(out, "source:     %s\n", res.TopSource)
	}
	fmt.Fprintf(out, "reason:     %s\n", res.Explanation)
	for _, e := range res.Evidence {
		name := "-"
		if e.Product != nil {
			name = e.Product.Name
		}
		if e.NotFound {
			name = "(no record)"
		}
		fmt.Fprintf(out, "  [%-17s] %-40s score=%.2f\n", e.Source, name, e.Score)
	}
	return nil
}
