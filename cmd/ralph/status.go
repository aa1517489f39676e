package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/ralphloop/ralph/internal/models"
	"github.com/ralphloop/ralph/internal/tui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Aggregate and report the current state",
	RunE:  runStatus,
}

var (
	statusJSON  bool
	statusWatch bool
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Emit the snapshot as JSON")
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "Poll the directory in a live view")
}

var (
	statusDoneStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	statusOpenStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true)
)

func runStatus(cmd *cobra.Command, args []string) error {
	svc, _, err := newService()
	if err != nil {
		return err
	}

	if statusWatch {
		return tui.NewWatch(svc).Run()
	}

	snapshot, err := svc.Aggregate()
	if err != nil {
		return err
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	}

	printSummary(snapshot)
	return nil
}

func printSummary(snapshot *models.Snapshot) {
	fmt.Printf("Task:      %s\n", snapshot.Task)
	if snapshot.MaxIterations != nil {
		fmt.Printf("Iteration: %d / %d\n", snapshot.Iteration, *snapshot.MaxIterations)
	} else {
		fmt.Printf("Iteration: %d\n", snapshot.Iteration)
	}
	fmt.Printf("Steps:     %d pending, %d in progress, %d complete, %d failed\n",
		len(snapshot.Pending), len(snapshot.InProgress), len(snapshot.Complete), len(snapshot.Failed))
	if len(snapshot.InProgress) > 0 {
		fmt.Printf("In progress: %s\n", strings.Join(snapshot.InProgress, ", "))
	}
	if len(snapshot.Failed) > 0 {
		fmt.Printf("Failed:      %s\n", strings.Join(snapshot.Failed, ", "))
	}
	fmt.Printf("Workers:   %d   Monitors: %d\n", len(snapshot.Workers), len(snapshot.Monitors))

	if rec := snapshot.LastValidation; rec != nil {
		fmt.Printf("Last validation: iteration %d by %s\n", rec.Iteration, rec.MonitorID)
	}
	if snapshot.IsComplete {
		fmt.Println(statusDoneStyle.Render("COMPLETE"))
	} else if snapshot.CanContinue {
		fmt.Println(statusOpenStyle.Render("IN PROGRESS (can continue)"))
	} else {
		fmt.Println(statusOpenStyle.Render("STOPPED (iteration budget exhausted)"))
	}
}
