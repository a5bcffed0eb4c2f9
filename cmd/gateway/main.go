package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"inference_gateway/internal/config"
	"inference_gateway/internal/storage"
	"inference_gateway/internal/utils"
)

// cfg is populated by the root command before any subcommand runs
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "API-key gated inference gateway",
	Long:  "OpenAI-compatible inference gateway with API key validation and per-request usage accounting.",
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		parsed, err := config.Parse()
		if err != nil {
			return err
		}
		if err := utils.ConfigureLogging(parsed.Log.Level, parsed.Log.Format); err != nil {
			return err
		}
		cfg = parsed
		return nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openDB connects using the database section of the loaded config.
func openDB() (*storage.DB, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return storage.NewDB(storage.DBConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		APIKeyCacheSize: cfg.Cache.APIKeyCacheSize,
		APIKeyCacheTTL:  cfg.Cache.APIKeyCacheTTL,
	})
}
