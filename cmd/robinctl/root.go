package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/robin-ai/robinrag/pkg/config"
)

var (
	configPath string
	jsonOutput bool

	cfg *config.Config
	log *slog.Logger
	svc *services
)

var rootCmd = &cobra.Command{
	Use:   "robinctl",
	Short: "Operate the robinrag vector index",
	Long: `robinctl ingests documents and option chains into the vector index,
searches it, and reports on past runs. Settings come from the YAML config,
the .env file and the environment.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "robinrag.yaml", "YAML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c
	log = c.Logger()
	return nil
}

func teardown(*cobra.Command, []string) error {
	if svc == nil || svc.injected {
		return nil
	}
	err := svc.Close()
	svc = nil
	return err
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
