package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load and validate the configuration without starting the engine.

Environment overrides (FLOODGATE_*) are applied, so the result is exactly
what "run" would use. With --print the effective configuration is written
as YAML.

Examples:
  floodgate validate -c floodgate.yml
  floodgate validate -c floodgate.yml --print`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidateCommand(cmd)
	},
}

var validatePrint bool

func init() {
	validateCmd.Flags().BoolVar(&validatePrint, "print", false,
		"print the effective configuration as YAML")
}

func runValidateCommand(cmd *cobra.Command) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	out := cmd.OutOrStdout()
	if validatePrint {
		data, err := cfg.YAML()
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		_, err = out.Write(data)
		return err
	}

	fmt.Fprintf(out, "VALID: window=%s max_requests=%d block=%s classifier=%s (%s) source=%s sink=%s\n",
		cfg.Mitigation.Window,
		cfg.Mitigation.MaxRequests,
		cfg.Mitigation.BlockWindow,
		cfg.Classifier.Kind,
		cfg.Classifier.FailurePolicy,
		cfg.Source.Kind,
		cfg.Sink.Kind,
	)
	return nil
}
