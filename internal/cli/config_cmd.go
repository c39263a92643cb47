package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soyeahso/casefinder/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialize configuration",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			// Secrets stay out of terminal output.
			cfg.Server.Secret = redact(cfg.Server.Secret)
			cfg.Generator.APIKey = redact(cfg.Generator.APIKey)
			cfg.Generator.CaseAPIKey = redact(cfg.Generator.CaseAPIKey)

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(paths.Config); err == nil {
				return fmt.Errorf("config already exists: %s", paths.Config)
			}
			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			out, err := yaml.Marshal(config.Defaults())
			if err != nil {
				return err
			}
			if err := os.WriteFile(paths.Config, out, 0o600); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", paths.Config)
			return nil
		},
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
