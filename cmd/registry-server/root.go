package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainsafe/registry-middleware/pkg/app"
	"github.com/chainsafe/registry-middleware/pkg/app/server"
	"github.com/chainsafe/registry-middleware/pkg/auth"
	"github.com/chainsafe/registry-middleware/pkg/config"
	"github.com/chainsafe/registry-middleware/pkg/keys"
	mghelper "github.com/chainsafe/registry-middleware/pkg/pgutil/migrations"
)

// runnerFactory builds the component a command runs; tests replace it.
type runnerFactory func(cfg *config.Config, args []string) app.Runner

func newRootCmd() *cobra.Command {
	return newRootCmdWith(map[string]runnerFactory{
		"serve": func(cfg *config.Config, _ []string) app.Runner {
			return server.NewServer(cfg)
		},
		"deploy": func(cfg *config.Config, _ []string) app.Runner {
			return server.NewDeployer(cfg)
		},
		"migrate": func(cfg *config.Config, args []string) app.Runner {
			return server.NewMigrator(cfg, args[0])
		},
	})
}

func newRootCmdWith(factories map[string]runnerFactory) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "registry-server",
		Short:         "Registry synchronization and transaction dispatch middleware",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (environment variables prefixed with "+config.EnvPrefix+"_ override it)")

	run := func(name string) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			return factories[name](cfg, args).Run()
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Synchronize the registry and serve the JSON-RPC facade",
		Args:  cobra.NoArgs,
		RunE:  run("serve"),
	})

	root.AddCommand(&cobra.Command{
		Use:   "deploy",
		Short: "Deploy the registry contract and print its address",
		Args:  cobra.NoArgs,
		RunE:  run("deploy"),
	})

	root.AddCommand(&cobra.Command{
		Use:       "migrate [" + strings.Join(mghelper.Commands, "|") + "]",
		Short:     "Run event journal database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: mghelper.Commands,
		RunE:      run("migrate"),
	})

	root.AddCommand(newKeysCmd(), newTokenCmd(&cfgFile))

	return root
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the contact encryption master key",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Print a new base64 master key for the security.master_key_env variable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := keys.GenerateMasterKey()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), keys.MasterKeyToBase64(key))
			return err
		},
	})
	return cmd
}

func newTokenCmd(cfgFile *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage JSON-RPC bearer tokens",
	}
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token with security.jwt_secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			token, err := auth.NewJWTValidator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer).IssueToken(subject, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	issue.Flags().StringVar(&subject, "subject", "operator", "token subject")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.AddCommand(issue)
	return cmd
}
