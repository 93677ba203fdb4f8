package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helixsec/fusion/internal/config"
	"github.com/helixsec/fusion/internal/correlation"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration without starting the engine",
	Long: `Load the configuration, resolve the synonym table and check the
settings serve would refuse to start with. Exits non-zero on the first
problem found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate()
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Escalation.SigningKey == "" {
		return fmt.Errorf("escalation.signing_key is required")
	}
	if cfg.Correlation.WindowDuration <= 0 {
		return fmt.Errorf("correlation.window_duration must be positive")
	}
	if cfg.Correlation.WindowCap < cfg.Correlation.WindowDuration {
		return fmt.Errorf("correlation.window_cap must be at least correlation.window_duration")
	}
	if cfg.Correlation.BurstThreshold <= 0 {
		return fmt.Errorf("correlation.burst_threshold must be positive")
	}
	if cfg.Enrichment.CompletenessFloor < 0 || cfg.Enrichment.CompletenessFloor > 1 {
		return fmt.Errorf("enrichment.completeness_floor must be in [0, 1]")
	}
	if cfg.Scoring.Thresholds.Medium > cfg.Scoring.Thresholds.High {
		return fmt.Errorf("scoring.thresholds.medium must not exceed scoring.thresholds.high")
	}
	for tenant, t := range cfg.Scoring.TenantOverrides {
		if t.Medium > t.High {
			return fmt.Errorf("scoring.tenant_overrides.%s: medium must not exceed high", tenant)
		}
	}

	for name, pc := range cfg.Enrichment.Providers {
		switch pc.Type {
		case "url", "ip", "hash", "service":
		default:
			return fmt.Errorf("enrichment.providers.%s: unknown type %q", name, pc.Type)
		}
		if pc.URL == "" {
			return fmt.Errorf("enrichment.providers.%s: url is required", name)
		}
	}

	if _, err := correlation.LoadSynonyms(cfg.Correlation.SynonymsFile); err != nil {
		return fmt.Errorf("correlation.synonyms_file: %w", err)
	}

	fmt.Println("configuration OK")
	return nil
}
