package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/forge"
	"github.com/fyrsmithlabs/remedyd/internal/orchestrator"
)

var (
	resumeProposal string
	runSeed        string
)

var runCmd = &cobra.Command{
	Use:   "run <owner/repo#number>",
	Short: "Fix a reported issue end to end",
	Long: `Run the full workflow against a reported issue: analyze it, implement a
fix on a branch, open a proposal, and iterate on critique and CI feedback.

Examples:
  # Fix issue 123
  remedyd run acme/widgets#123

  # Provide extra steering for the agents
  remedyd run acme/widgets#123 --seed "the regression started with the v2 parser"`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <owner/repo#number>",
	Short: "Resume review of an already-open proposal",
	Long: `Skip analysis and implementation and go straight to critiquing an
existing proposal for the given issue. Further iterations amend the
proposal as usual.

Examples:
  remedyd resume acme/widgets#123 --proposal acme/widgets#456`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().StringVar(&runSeed, "seed", "", "extra instruction prepended to the workflow transcript")
	resumeCmd.Flags().StringVar(&runSeed, "seed", "", "extra instruction prepended to the workflow transcript")
	resumeCmd.Flags().StringVar(&resumeProposal, "proposal", "", "open proposal to critique (owner/repo#number)")
	resumeCmd.MarkFlagRequired("proposal") //nolint:errcheck
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	issue, err := forge.ParseRef(args[0])
	if err != nil {
		return err
	}

	input := orchestrator.Input{Issue: issue, Seed: seedText(issue)}
	if cmd.Name() == "resume" {
		proposal, err := forge.ParseRef(resumeProposal)
		if err != nil {
			return fmt.Errorf("--proposal: %w", err)
		}
		input.Resume = &proposal
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	outcome, err := a.engine.Run(ctx, input)
	if err != nil {
		a.logger.Error("run failed", zap.String("run_id", outcome.RunID), zap.Error(err))
		return err
	}

	fmt.Fprintf(os.Stdout, "run %s: %s\n", outcome.RunID, outcome.Status)
	if outcome.Proposal != nil {
		fmt.Fprintf(os.Stdout, "proposal: %s\n", outcome.Proposal)
	}
	if outcome.Summary != "" {
		fmt.Fprintf(os.Stdout, "%s\n", outcome.Summary)
	}
	return nil
}

// seedText composes the opening transcript turn from the issue and the
// optional --seed steering.
func seedText(issue forge.Ref) string {
	seed := fmt.Sprintf("Fix the problem reported in %s.", issue)
	if runSeed != "" {
		seed += "\n\n" + runSeed
	}
	return seed
}
