package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bezhas-entitlements/internal/common/auth"
	"bezhas-entitlements/internal/staking"
	"bezhas-entitlements/internal/tiers"
)

var (
	catalogPathFlag string
	outputFlag      string
	versionFlag     string

	fromFlag string
	toFlag   string

	stakeFlag  float64
	tierFlag   string
	monthsFlag int

	secretFlag string
	issuerFlag string
	userFlag   string
	emailFlag  string
	ttlFlag    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "tierctl",
	Short:         "Operate the BeZhas tier catalog",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Export and validate tier catalog documents",
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the active catalog as a tier document",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := tiers.LoadCatalog(catalogPathFlag)
		if err != nil {
			return err
		}
		data, err := tiers.MarshalDocument(catalog, versionFlag)
		if err != nil {
			return err
		}
		if outputFlag == "" || outputFlag == "-" {
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		}
		if err := os.WriteFile(outputFlag, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", outputFlag, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Catalog written to %s\n", outputFlag)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a tier document against the schema and catalog rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := tiers.LoadCatalog(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Catalog valid: %d tiers, default %s\n", len(catalog.Hierarchy()), catalog.Default())
		return nil
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Show what an upgrade between two tiers adds",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := tiers.LoadCatalog(catalogPathFlag)
		if err != nil {
			return err
		}
		from, ok := catalog.Lookup(tiers.ID(fromFlag))
		if !ok {
			return fmt.Errorf("unknown tier %q", fromFlag)
		}
		to, ok := catalog.Lookup(tiers.ID(toFlag))
		if !ok {
			return fmt.Errorf("unknown tier %q", toFlag)
		}
		return printJSON(cmd.OutOrStdout(), catalog.Compare(from, to, tiers.DefaultPolicy()))
	},
}

var roiCmd = &cobra.Command{
	Use:   "roi",
	Short: "Project staking ROI for a stake, per tier or for one tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		if stakeFlag <= 0 {
			return fmt.Errorf("--stake must be positive")
		}
		catalog, err := tiers.LoadCatalog(catalogPathFlag)
		if err != nil {
			return err
		}
		projector := staking.NewProjector(catalog, tiers.DefaultPolicy())
		if tierFlag == "" {
			return printJSON(cmd.OutOrStdout(), projector.CompareROI(stakeFlag, monthsFlag))
		}
		return printJSON(cmd.OutOrStdout(), projector.CalculateROI(stakeFlag, tiers.ID(tierFlag), monthsFlag))
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if secretFlag == "" {
			secretFlag = os.Getenv("JWT_SECRET")
		}
		if secretFlag == "" {
			return fmt.Errorf("--secret or JWT_SECRET is required")
		}
		if userFlag == "" {
			return fmt.Errorf("--user is required")
		}
		token, err := auth.NewJWTAuthenticator(secretFlag, issuerFlag).Issue(userFlag, emailFlag, ttlFlag)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&catalogPathFlag, "catalog", "", "Path to a tier document (default: built-in tiers)")

	catalogCmd.AddCommand(exportCmd)
	catalogCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(catalogCmd, compareCmd, roiCmd, tokenCmd)

	exportCmd.Flags().StringVarP(&outputFlag, "output", "o", "-", "Output file, - for stdout")
	exportCmd.Flags().StringVar(&versionFlag, "version", "1.0.0", "Version written into the document header")

	compareCmd.Flags().StringVar(&fromFlag, "from", string(tiers.Starter), "Current tier")
	compareCmd.Flags().StringVar(&toFlag, "to", string(tiers.Business), "Target tier")

	roiCmd.Flags().Float64Var(&stakeFlag, "stake", 0, "Stake amount in BEZ")
	roiCmd.Flags().StringVar(&tierFlag, "tier", "", "Tier to project (default: compare all tiers)")
	roiCmd.Flags().IntVar(&monthsFlag, "months", 12, "Projection horizon in months")

	tokenCmd.Flags().StringVar(&secretFlag, "secret", "", "HMAC secret (default: $JWT_SECRET)")
	tokenCmd.Flags().StringVar(&issuerFlag, "issuer", "", "Token issuer")
	tokenCmd.Flags().StringVar(&userFlag, "user", "", "User id placed in the subject claim")
	tokenCmd.Flags().StringVar(&emailFlag, "email", "", "Email claim")
	tokenCmd.Flags().DurationVar(&ttlFlag, "ttl", time.Hour, "Token lifetime")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
