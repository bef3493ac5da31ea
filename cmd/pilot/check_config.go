package main

import (
	"fmt"

	"github.com/entrhq/pilot/pkg/config"
	"github.com/entrhq/pilot/pkg/sitescript"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate and print the effective configuration",
	Long: `Loads the configuration the same way serve does, validates it and the
site script table, and prints the result as YAML. The API key is masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		if _, err := sitescript.Load(cfg.SiteScripts.File); err != nil {
			return err
		}

		shown := *cfg
		if shown.LLM.APIKey != "" {
			shown.LLM.APIKey = "********"
		}
		out, err := yaml.Marshal(&shown)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}

		w := cmd.OutOrStdout()
		if cfg.Source != "" {
			fmt.Fprintf(w, "# loaded from %s\n", cfg.Source)
		} else {
			fmt.Fprintln(w, "# no config file found, using defaults")
		}
		_, err = w.Write(out)
		return err
	},
}
