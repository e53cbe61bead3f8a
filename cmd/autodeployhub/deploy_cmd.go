package main

import (
	"fmt"

	"github.com/spf13/cobra"

	apiclient "github.com/ironsupr/AutoDeployHub/pkg/api/client"
)

type deployOpts struct {
	*rootOpts
	reference string
}

func newDeploy(parent *rootOpts) *deployOpts {
	return &deployOpts{rootOpts: parent}
}

func (opts *deployOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy <workload-id>",
		Short: "Build the workload's branch and deploy it, printing the attempt log",
		RunE:  opts.RunE,
	}
	cmd.Flags().StringVar(&opts.reference, "reference", "", "commit reference used for the image tag (default manual)")
	return cmd
}

func (opts *deployOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedWorkload
	}
	client, token, err := opts.apiClient()
	if err != nil {
		return err
	}
	attempt, err := client.Deploy(cmd.Context(), token, args[0], opts.reference)
	if err != nil {
		return err
	}
	return reportAttempt(cmd, attempt)
}

type rollbackOpts struct {
	*rootOpts
}

func newRollback(parent *rootOpts) *rollbackOpts {
	return &rollbackOpts{rootOpts: parent}
}

func (opts *rollbackOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <workload-id> <attempt-id>",
		Short: "Point the workload back at the image of a previous successful attempt",
		RunE:  opts.RunE,
	}
}

func (opts *rollbackOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 2 {
		return errorWantedRollbackArg
	}
	client, token, err := opts.apiClient()
	if err != nil {
		return err
	}
	attempt, err := client.Rollback(cmd.Context(), token, args[0], args[1])
	if err != nil {
		return err
	}
	return reportAttempt(cmd, attempt)
}

func reportAttempt(cmd *cobra.Command, attempt apiclient.Attempt) error {
	printAttempt(cmd.OutOrStdout(), attempt)
	if attempt.Status != "success" {
		return fmt.Errorf("attempt %s %s", attempt.ID, attempt.Status)
	}
	return nil
}

type attemptsOpts struct {
	*rootOpts
	limit int
}

func newAttempts(parent *rootOpts) *attemptsOpts {
	return &attemptsOpts{rootOpts: parent}
}

func (opts *attemptsOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attempts <workload-id>",
		Short: "List recent deployment and rollback attempts of a workload",
		RunE:  opts.RunE,
	}
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "maximum number of attempts to show")
	return cmd
}

func (opts *attemptsOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedWorkload
	}
	client, token, err := opts.apiClient()
	if err != nil {
		return err
	}
	attempts, err := client.ListAttempts(cmd.Context(), token, args[0], opts.limit)
	if err != nil {
		return err
	}
	printAttempts(cmd.OutOrStdout(), attempts)
	return nil
}
