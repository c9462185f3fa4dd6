package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/interview-capture/internal/core"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after merging .icapconfig, .env and ICAP_*
environment variables. The Slack webhook URL is redacted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Config == nil {
			return fmt.Errorf("configuration not loaded")
		}
		cfg := *Config
		if cfg.Notifications.Slack.WebhookURL != "" {
			cfg.Notifications.Slack.WebhookURL = "<redacted>"
		}
		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return fmt.Errorf("formatting configuration: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s/%s.yaml\n%s", BasePath, core.ConfigFileName, data)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Config == nil || ConfigMgr == nil {
			return fmt.Errorf("configuration not loaded")
		}
		if err := ConfigMgr.ValidateConfig(Config); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
