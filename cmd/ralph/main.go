package main

import (
	"fmt"
	"os"

	"github.com/ralphloop/ralph/internal/audit"
	"github.com/ralphloop/ralph/internal/config"
	"github.com/ralphloop/ralph/internal/coord"
	"github.com/ralphloop/ralph/internal/runner"
	"github.com/ralphloop/ralph/internal/store"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "ralph - file-based coordination for independent workers and monitors",
	Long: `ralph coordinates independent worker and monitor processes through a
shared directory of files. There is no server: every invocation starts
cold, infers state from disk, and exits. Exclusive step claiming, the
central ledger, and validation records all rely only on the filesystem's
atomic rename and exclusive-create primitives.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	dirFlag    string
	configFlag string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dirFlag, "dir", "", "Coordination directory (default "+config.DefaultDir+")")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default "+config.DefaultFile+")")

	// Add subcommands
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(stepCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(iterateCmd)
	rootCmd.AddCommand(cleanupCmd)
}

// loadConfig merges the config file with the --dir override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if dirFlag != "" {
		cfg.Dir = dirFlag
	}
	return cfg, nil
}

// newService builds the coordination service for one invocation. The
// audit journal opens lazily and is best-effort.
func newService() (*coord.Service, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := store.ValidateDir(cfg.Dir); err != nil {
		return nil, nil, fmt.Errorf("invalid coordination directory: %w", err)
	}

	st := store.New(cfg.Dir)
	pdr := audit.NewPDRWriter(cfg.Dir)
	svc := coord.NewService(st, pdr, runner.New(""), os.Getpid())
	return svc, cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
