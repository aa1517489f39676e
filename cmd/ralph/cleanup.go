package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clear locks, archive, or remove the coordination directory",
}

var cleanupLocksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Remove all lock files (step locks and the ledger mutex)",
	RunE:  runCleanupLocks,
}

var cleanupArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Copy state into a timestamped archive subdirectory",
	RunE:  runCleanupArchive,
}

var cleanupRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Delete the entire coordination directory",
	RunE:  runCleanupRemove,
}

var removeForce bool

func init() {
	cleanupCmd.AddCommand(cleanupLocksCmd, cleanupArchiveCmd, cleanupRemoveCmd)
	cleanupRemoveCmd.Flags().BoolVar(&removeForce, "force", false, "Confirm the removal")
}

func runCleanupLocks(cmd *cobra.Command, args []string) error {
	svc, _, err := newService()
	if err != nil {
		return err
	}

	result, err := svc.CleanLocks()
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d lock(s), %d failure(s)\n", result.Removed, result.Failed)
	return nil
}

func runCleanupArchive(cmd *cobra.Command, args []string) error {
	svc, _, err := newService()
	if err != nil {
		return err
	}

	result, err := svc.Archive()
	if err != nil {
		return err
	}
	fmt.Printf("Archived %d file(s) to %s (%d failure(s))\n", result.Copied, result.Dir, result.Failed)
	return nil
}

func runCleanupRemove(cmd *cobra.Command, args []string) error {
	svc, cfg, err := newService()
	if err != nil {
		return err
	}

	if err := svc.Destroy(removeForce); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", cfg.Dir)
	return nil
}
