package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	apiclient "github.com/ironsupr/AutoDeployHub/pkg/api/client"
	"github.com/ironsupr/AutoDeployHub/pkg/config"
)

const (
	envFileVariable = "ENV_FILE"
	defaultEnvFile  = ".env"
)

type rootOpts struct {
	envFile string
	url     string
	token   string
	client  *apiclient.Client
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
autodeployhub builds repositories into container images and rolls them out to Kubernetes.

Workflow:
  autodeployhub serve                                          # Run the API server.
  autodeployhub workloads create --name demo --repo https://github.com/acme/demo.git
  autodeployhub deploy <workload-id> --reference 0123abc         # Build and deploy.
  autodeployhub attempts <workload-id>                         # Inspect history.
  autodeployhub rollback <workload-id> <attempt-id>            # Re-deploy a previous image.
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "autodeployhub",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		Version:           buildVersion,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	opts.addFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newServe(opts).Command(),
		newMigrate(opts).Command(),
		newToken(opts).Command(),
		newWorkloads(opts).Command(),
		newDeploy(opts).Command(),
		newRollback(opts).Command(),
		newAttempts(opts).Command(),
	)
	return cmd
}

func (opts *rootOpts) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&opts.envFile, "env-file", "", fmt.Sprintf("dotenv file loaded before reading configuration; defaults to $%s or %s", envFileVariable, defaultEnvFile))
	fs.StringVar(&opts.url, "url", "", "base URL of the API server; defaults to $API_BASE_URL")
	fs.StringVar(&opts.token, "token", "", "bearer token for API requests; defaults to $API_TOKEN")
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	envFile := opts.envFile
	if envFile == "" {
		envFile = config.GetString(envFileVariable, defaultEnvFile)
	}
	return config.LoadEnvFile(envFile)
}

// apiClient builds the HTTP client for commands that talk to a running server.
func (opts *rootOpts) apiClient() (*apiclient.Client, string, error) {
	cfg := config.LoadClientConfig()
	url := cfg.BaseURL
	if opts.url != "" {
		url = opts.url
	}
	token := cfg.Token
	if opts.token != "" {
		token = opts.token
	}
	if opts.client != nil {
		return opts.client, token, nil
	}
	client, err := apiclient.New(url)
	if err != nil {
		return nil, "", err
	}
	opts.client = client
	return client, token, nil
}
