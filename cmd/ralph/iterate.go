package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var iterateCmd = &cobra.Command{
	Use:   "iterate",
	Short: "Advance the ledger's iteration counter",
	RunE:  runIterate,
}

func runIterate(cmd *cobra.Command, args []string) error {
	svc, _, err := newService()
	if err != nil {
		return err
	}

	next, err := svc.AdvanceIteration()
	if err != nil {
		return err
	}
	fmt.Printf("Iteration is now %d\n", next)
	return nil
}
