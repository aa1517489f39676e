package main

import (
	"context"
	"fmt"

	"github.com/ralphloop/ralph/internal/coord"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run a validation pass and record the outcome",
	RunE:  runValidate,
}

var (
	validateIteration int
	monitorID         string
	testCommand       string
	promiseOverride   string
)

func init() {
	validateCmd.Flags().IntVar(&validateIteration, "iteration", 0, "Iteration to record (default: ledger's current)")
	validateCmd.Flags().StringVar(&monitorID, "monitor", "", "Monitor id (default: generated)")
	validateCmd.Flags().StringVar(&testCommand, "test-command", "", "External verification command")
	validateCmd.Flags().StringVar(&promiseOverride, "promise", "", "Completion promise marker (default: ledger's)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	svc, cfg, err := newService()
	if err != nil {
		return err
	}

	command := testCommand
	if command == "" {
		command = cfg.TestCommand
	}

	record, err := svc.Validate(context.Background(), coord.ValidateOptions{
		Iteration:   validateIteration,
		MonitorID:   monitorID,
		TestCommand: command,
		Promise:     promiseOverride,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Validation iteration %d by %s\n", record.Iteration, record.MonitorID)
	fmt.Printf("All steps complete: %v\n", record.AllStepsComplete)
	if record.TestsPassing == nil {
		fmt.Println("Tests passing:      unknown (no command)")
	} else {
		fmt.Printf("Tests passing:      %v\n", *record.TestsPassing)
	}
	fmt.Printf("Promise found:      %v\n", record.PromiseFound)
	fmt.Printf("Overall complete:   %v\n", record.OverallComplete)
	for _, note := range record.Notes {
		fmt.Printf("Note: %s\n", note)
	}
	return nil
}
