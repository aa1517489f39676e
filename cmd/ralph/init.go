package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the coordination directory and ledger",
	RunE:  runInit,
}

var (
	initTask    string
	initSteps   string
	initMaxIter int
	initPromise string
)

func init() {
	initCmd.Flags().StringVar(&initTask, "task", "", "Task description")
	initCmd.Flags().StringVar(&initSteps, "steps", "", "Comma-separated step ids to pre-declare")
	initCmd.Flags().IntVar(&initMaxIter, "max-iterations", 0, "Iteration bound (0 = unbounded)")
	initCmd.Flags().StringVar(&initPromise, "promise", "", "Completion promise marker text")
}

func runInit(cmd *cobra.Command, args []string) error {
	svc, cfg, err := newService()
	if err != nil {
		return err
	}

	task := initTask
	if task == "" {
		task = cfg.Task
	}
	promise := initPromise
	if promise == "" {
		promise = cfg.CompletionPromise
	}
	maxIter := initMaxIter
	if maxIter == 0 {
		maxIter = cfg.MaxIterations
	}
	var maxIterations *int
	if maxIter > 0 {
		maxIterations = &maxIter
	}

	var stepIDs []string
	for _, id := range strings.Split(initSteps, ",") {
		if id = strings.TrimSpace(id); id != "" {
			stepIDs = append(stepIDs, id)
		}
	}

	ledger, err := svc.Init(task, stepIDs, maxIterations, promise)
	if err != nil {
		return err
	}

	fmt.Printf("Initialized %s\n", cfg.Dir)
	fmt.Printf("Task:  %s\n", ledger.Task)
	fmt.Printf("Steps: %d declared\n", len(ledger.Steps))
	return nil
}
