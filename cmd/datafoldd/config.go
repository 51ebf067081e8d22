package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/datafold/datafold/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect node configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective node configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadNodeConfig(cmd)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

// loadNodeConfig builds a config.NodeConfig either from --config (a YAML
// file matching NodeConfig's own yaml tags) or from --data-dir/--profile
// flags layered over NewSignatureAuthConfig's named preset — reading config
// off disk is this CLI's job, not internal/config's (see its package doc).
func loadNodeConfig(cmd *cobra.Command) (config.NodeConfig, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return config.NodeConfig{}, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		var cfg config.NodeConfig
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return config.NodeConfig{}, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
		return cfg, nil
	}

	dataDir, _ := cmd.Flags().GetString("data-dir")
	profileName, _ := cmd.Flags().GetString("profile")
	if profileName == "" {
		profileName = "standard"
	}

	cfg := config.NodeConfig{
		StoragePath:          dataDir,
		DefaultTrustDistance: 0,
		SignatureAuth:        config.NewSignatureAuthConfig(config.SecurityProfile(profileName)),
	}
	return cfg, nil
}
