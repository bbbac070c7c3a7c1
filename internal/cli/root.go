// Package cli implements palletctl, the operator tool for the pallet engine.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axelsamuelson/crowdvine-sub005/internal/app"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format  string // "json" | "text"
	EnvFile string
	Actor   string

	connect Connector
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Backend is what the database-backed commands need.
type Backend interface {
	Reconcile(ctx context.Context, palletID *string) (app.ReconciliationReport, error)
	Evaluate(ctx context.Context, palletID string) (app.CompletionReport, error)
	ReverseCompletion(ctx context.Context, palletID, confirm, actor string) (app.ReversalResult, error)
	Collisions(ctx context.Context) ([]app.PairCollision, error)
	Close()
}

// Connector opens a Backend for one command run.
type Connector func(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (Backend, error)

// NewRootCommand creates the palletctl root command. A nil connector uses
// Postgres as configured by the environment.
func NewRootCommand(connect Connector) *cobra.Command {
	if connect == nil {
		connect = PostgresConnector
	}
	opts := &RootOptions{connect: connect}

	cmd := &cobra.Command{
		Use:   "palletctl",
		Short: "Operate the pallet fulfillment engine",
		Long: `palletctl runs the operator side of the pallet engine: reconciling cached
pallet assignments, evaluating and reversing completions, listing zone pair
collisions and checking completion rule files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "path to a .env file (default: nearest .env)")
	cmd.PersistentFlags().StringVar(&opts.Actor, "actor", "palletctl", "operator name recorded on transitions")

	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewEvaluateCommand(opts))
	cmd.AddCommand(NewReverseCommand(opts))
	cmd.AddCommand(NewCollisionsCommand(opts))
	cmd.AddCommand(NewRulesCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// withBackend opens the backend, runs fn and closes it.
func withBackend(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, b Backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := opts.connect(ctx, opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "connect", err)
	}
	defer b.Close()
	return fn(ctx, b)
}
