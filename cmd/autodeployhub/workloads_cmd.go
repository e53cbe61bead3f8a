package main

import (
	"fmt"

	"github.com/spf13/cobra"

	apiclient "github.com/ironsupr/AutoDeployHub/pkg/api/client"
)

type workloadsOpts struct {
	*rootOpts
}

func newWorkloads(parent *rootOpts) *workloadsOpts {
	return &workloadsOpts{rootOpts: parent}
}

func (opts *workloadsOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workloads",
		Short: "Manage registered workloads",
	}
	cmd.AddCommand(
		newWorkloadCreate(opts).Command(),
		newWorkloadList(opts).Command(),
	)
	return cmd
}

type workloadCreateOpts struct {
	*workloadsOpts
	input apiclient.CreateWorkloadInput
}

func newWorkloadCreate(parent *workloadsOpts) *workloadCreateOpts {
	return &workloadCreateOpts{workloadsOpts: parent}
}

func (opts *workloadCreateOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a repository branch as a workload",
		RunE:  opts.RunE,
	}
	cmd.Flags().StringVar(&opts.input.Name, "name", "", "workload name; becomes the Kubernetes deployment name")
	cmd.Flags().StringVar(&opts.input.RepoURL, "repo", "", "git repository URL")
	cmd.Flags().StringVar(&opts.input.Branch, "branch", "", "tracked branch (default main)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func (opts *workloadCreateOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	client, token, err := opts.apiClient()
	if err != nil {
		return err
	}
	workload, err := client.CreateWorkload(cmd.Context(), token, opts.input)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created workload %s (%s)\n", workload.Name, workload.ID)
	return nil
}

type workloadListOpts struct {
	*workloadsOpts
}

func newWorkloadList(parent *workloadsOpts) *workloadListOpts {
	return &workloadListOpts{workloadsOpts: parent}
}

func (opts *workloadListOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered workloads",
		RunE:  opts.RunE,
	}
}

func (opts *workloadListOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	client, token, err := opts.apiClient()
	if err != nil {
		return err
	}
	workloads, err := client.ListWorkloads(cmd.Context(), token)
	if err != nil {
		return err
	}
	printWorkloads(cmd.OutOrStdout(), workloads)
	return nil
}
