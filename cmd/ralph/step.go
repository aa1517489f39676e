package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Claim, complete, and inspect steps",
}

var stepClaimCmd = &cobra.Command{
	Use:   "claim [step-id]",
	Short: "Exclusively claim a step",
	Args:  cobra.ExactArgs(1),
	RunE:  runStepClaim,
}

var stepCompleteCmd = &cobra.Command{
	Use:   "complete [step-id]",
	Short: "Complete a claimed step",
	Args:  cobra.ExactArgs(1),
	RunE:  runStepComplete,
}

var stepFailCmd = &cobra.Command{
	Use:   "fail [step-id]",
	Short: "Mark a claimed step failed",
	Args:  cobra.ExactArgs(1),
	RunE:  runStepFail,
}

var stepShowCmd = &cobra.Command{
	Use:   "show [step-id]",
	Short: "Show step details",
	Args:  cobra.ExactArgs(1),
	RunE:  runStepShow,
}

var stepListCmd = &cobra.Command{
	Use:   "list",
	Short: "List steps",
	RunE:  runStepList,
}

var (
	ownerID    string
	claimForce bool
	stepResult string
	resultSink string
	failReason string
)

func init() {
	stepCmd.AddCommand(stepClaimCmd, stepCompleteCmd, stepFailCmd, stepShowCmd, stepListCmd)

	stepClaimCmd.Flags().StringVar(&ownerID, "owner", "", "Owner id (default: generated)")
	stepClaimCmd.Flags().BoolVar(&claimForce, "force", false, "Overwrite a corrupt step file")

	stepCompleteCmd.Flags().StringVar(&ownerID, "owner", "", "Owner id (must match the claim)")
	stepCompleteCmd.Flags().StringVar(&stepResult, "result", "", "Result text to attach")
	stepCompleteCmd.Flags().StringVar(&resultSink, "result-file", "", "Also write the result to this file")

	stepFailCmd.Flags().StringVar(&ownerID, "owner", "", "Owner id (must match the claim)")
	stepFailCmd.Flags().StringVar(&failReason, "reason", "", "Failure reason")
}

func runStepClaim(cmd *cobra.Command, args []string) error {
	svc, _, err := newService()
	if err != nil {
		return err
	}

	step, err := svc.ClaimStep(args[0], ownerID, claimForce)
	if err != nil {
		return err
	}

	fmt.Printf("Claimed step %s\n", step.ID)
	fmt.Printf("Owner: %s\n", step.Owner)
	return nil
}

func runStepComplete(cmd *cobra.Command, args []string) error {
	svc, _, err := newService()
	if err != nil {
		return err
	}

	step, err := svc.CompleteStep(args[0], ownerID, stepResult, resultSink)
	if err != nil {
		return err
	}

	fmt.Printf("Completed step %s\n", step.ID)
	if step.CompletedAt != nil {
		fmt.Printf("Completed at: %s\n", step.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runStepFail(cmd *cobra.Command, args []string) error {
	svc, _, err := newService()
	if err != nil {
		return err
	}

	step, err := svc.FailStep(args[0], ownerID, failReason)
	if err != nil {
		return err
	}

	fmt.Printf("Marked step %s failed\n", step.ID)
	return nil
}

func runStepShow(cmd *cobra.Command, args []string) error {
	svc, _, err := newService()
	if err != nil {
		return err
	}

	snapshot, err := svc.Aggregate()
	if err != nil {
		return err
	}
	step, ok := snapshot.Steps[args[0]]
	if !ok {
		return fmt.Errorf("step not found: %s", args[0])
	}

	fmt.Printf("ID:     %s\n", step.ID)
	fmt.Printf("Status: %s\n", step.Status)
	if step.Owner != "" {
		fmt.Printf("Owner:  %s\n", step.Owner)
	}
	if step.ClaimedAt != nil {
		fmt.Printf("Claimed:   %s\n", step.ClaimedAt.Format("2006-01-02 15:04:05"))
	}
	if step.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", step.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if step.Result != "" {
		fmt.Printf("Result:\n%s\n", step.Result)
	}
	return nil
}

func runStepList(cmd *cobra.Command, args []string) error {
	svc, _, err := newService()
	if err != nil {
		return err
	}

	snapshot, err := svc.Aggregate()
	if err != nil {
		return err
	}
	if len(snapshot.Steps) == 0 {
		fmt.Println("No steps found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tOWNER")
	for _, group := range [][]string{snapshot.Pending, snapshot.InProgress, snapshot.Complete, snapshot.Failed} {
		for _, id := range group {
			step := snapshot.Steps[id]
			fmt.Fprintf(w, "%s\t%s\t%s\n", step.ID, step.Status, step.Owner)
		}
	}
	w.Flush()
	return nil
}
