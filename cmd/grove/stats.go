package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jward/grove"
	"github.com/jward/grove/internal/config"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show snapshot and symbol graph statistics",
	Args:  cobra.NoArgs,
	RunE: runSession("stats", func(s *session, _ []string) (any, error) {
		snap, err := s.store.Stats()
		if err != nil {
			return nil, err
		}
		out := CLIStats{
			Root:     s.root,
			Database: s.dbPath,
			Snapshot: snap,
			Engine:   s.engine.Stats(),
		}
		if at, ok, err := s.store.Meta(grove.MetaIndexedAt); err == nil && ok {
			out.IndexedAt = at
		}
		return out, nil
	}),
}

var flagConfigForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting cwd: %w", err)
		}
		cfg, err := loadConfig(findRepoRoot(cwd))
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return outputError("config init", fmt.Errorf("getting cwd: %w", err))
		}
		path := resolveConfigPath(findRepoRoot(cwd))
		if _, err := os.Stat(path); err == nil && !flagConfigForce {
			return outputError("config init", fmt.Errorf("%s already exists (use --force to overwrite)", path))
		}
		if err := config.Save(config.Default(), path); err != nil {
			return outputError("config init", err)
		}
		return outputResult(CLIResult{Command: "config init", Results: path})
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&flagConfigForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
