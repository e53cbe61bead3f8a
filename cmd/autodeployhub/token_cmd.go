package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironsupr/AutoDeployHub/pkg/config"
	"github.com/ironsupr/AutoDeployHub/pkg/jwt"
)

type tokenOpts struct {
	*rootOpts
	subject string
	ttl     time.Duration
}

func newToken(parent *rootOpts) *tokenOpts {
	return &tokenOpts{rootOpts: parent}
}

func (opts *tokenOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token signed with SECRET_KEY",
		RunE:  opts.RunE,
	}
	cmd.Flags().StringVar(&opts.subject, "subject", "", "token subject, usually an operator name")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 0, "token lifetime; defaults to ACCESS_TOKEN_EXPIRE_MINUTES")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func (opts *tokenOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	cfg := config.LoadServerConfig()
	ttl := opts.ttl
	if ttl <= 0 {
		ttl = cfg.AccessTokenTTL
	}
	token, err := jwt.GenerateToken(opts.subject, cfg.JWTSecret, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
