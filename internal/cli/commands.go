package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/axelsamuelson/crowdvine-sub005/internal/app"
	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

// serviceError reports a service failure in the configured format.
func serviceError(f *OutputFormatter, err error) error {
	switch {
	case errors.Is(err, domain.ErrPalletNotFound):
		return f.Error(ExitCommandError, "pallet_not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidID):
		return f.Error(ExitCommandError, "invalid_id", err.Error(), nil)
	case errors.Is(err, domain.ErrReversalNotConfirmed):
		return f.Error(ExitCommandError, "reversal_not_confirmed", err.Error(), nil)
	case errors.Is(err, domain.ErrPalletConfirmed):
		return f.Error(ExitFailure, "pallet_confirmed", err.Error(), nil)
	case errors.Is(err, domain.ErrPalletNotComplete):
		return f.Error(ExitFailure, "pallet_not_complete", err.Error(), nil)
	default:
		return f.Error(ExitCommandError, "error", err.Error(), nil)
	}
}

func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	var palletID string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute cached pallet assignments",
		Long: `Recompute every unfrozen reservation's pallet from its zone pair and fix
stale caches. Pickup zone mismatches and pair collisions are reported, not
fixed. Running it twice in a row makes no changes the second time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withBackend(rootOpts, cmd, func(ctx context.Context, b Backend) error {
				var scope *string
				if palletID != "" {
					scope = &palletID
				}
				rep, err := b.Reconcile(ctx, scope)
				if err != nil {
					return serviceError(f, err)
				}
				return f.Success(rep, func(w io.Writer) { printReconcile(w, rep) })
			})
		},
	}
	cmd.Flags().StringVar(&palletID, "pallet", "", "only reservations of this pallet")
	return cmd
}

func printReconcile(w io.Writer, rep app.ReconciliationReport) {
	fmt.Fprintf(w, "scanned %d reservations, %d corrected, %d awaiting a pallet\n",
		rep.Scanned, len(rep.Corrections), len(rep.Awaiting))
	for _, c := range rep.Corrections {
		fmt.Fprintf(w, "  %s: %s -> %s\n", c.ReservationID, orNone(c.From), orNone(c.To))
	}
	for _, d := range rep.Discrepancies {
		fmt.Fprintf(w, "  ! %s %s: %s\n", d.ReservationID, d.Kind, d.Detail)
	}
	printCollisions(w, rep.Collisions)
}

func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <pallet-id>",
		Short: "Show a pallet's fill and what its completion rules say now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withBackend(rootOpts, cmd, func(ctx context.Context, b Backend) error {
				rep, err := b.Evaluate(ctx, args[0])
				if err != nil {
					return serviceError(f, err)
				}
				if err := f.Success(rep, func(w io.Writer) { printCompletion(w, rep) }); err != nil {
					return err
				}
				if rep.Inconsistent {
					return NewExitError(ExitFailure, "completion is inconsistent with the pallet's rules")
				}
				return nil
			})
		},
	}
}

func printCompletion(w io.Writer, rep app.CompletionReport) {
	m := rep.Metrics
	fmt.Fprintf(w, "pallet %s  %s  complete=%t\n", rep.PalletID, rep.Status, rep.IsComplete)
	fmt.Fprintf(w, "  bottles %d/%d (%.1f%%)  profit %.2f SEK\n", m.Bottles, m.Capacity, m.FillPercent, m.ProfitSEK)
	if len(m.GatedProducers) > 0 {
		fmt.Fprintf(w, "  below MOQ: %s\n", strings.Join(m.GatedProducers, ", "))
	}
	fmt.Fprintf(w, "  rules would complete: %s\n", rep.WouldComplete)
	if rep.Inconsistent {
		fmt.Fprintln(w, "  ! completed but its rules no longer hold; reverse with: palletctl reverse "+rep.PalletID+" --confirm RESET")
	}
}

func NewReverseCommand(rootOpts *RootOptions) *cobra.Command {
	var confirm string
	cmd := &cobra.Command{
		Use:   "reverse <pallet-id>",
		Short: "Return a completed pallet to OPEN",
		Long: `Return a completed, unconfirmed pallet to OPEN. Its pending_payment
reservations go back to placed and their outstanding charges are voided.
Requires --confirm RESET.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			if confirm != domain.ReversalConfirmation {
				return serviceError(f, domain.ErrReversalNotConfirmed)
			}
			return withBackend(rootOpts, cmd, func(ctx context.Context, b Backend) error {
				res, err := b.ReverseCompletion(ctx, args[0], confirm, rootOpts.Actor)
				if err != nil {
					return serviceError(f, err)
				}
				return f.Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "✓ pallet %s is %s: %d reservations reverted, %d charges voided\n",
						res.Pallet.ID, res.Pallet.Status, len(res.Reverted), len(res.Voided))
				})
			})
		},
	}
	cmd.Flags().StringVar(&confirm, "confirm", "", `must be "RESET"`)
	return cmd
}

func NewCollisionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "collisions",
		Short: "List zone pairs claimed by more than one active pallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withBackend(rootOpts, cmd, func(ctx context.Context, b Backend) error {
				cs, err := b.Collisions(ctx)
				if err != nil {
					return serviceError(f, err)
				}
				if err := f.Success(cs, func(w io.Writer) {
					if len(cs) == 0 {
						fmt.Fprintln(w, "✓ no collisions")
						return
					}
					printCollisions(w, cs)
				}); err != nil {
					return err
				}
				if len(cs) > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d zone pairs have more than one active pallet", len(cs)))
				}
				return nil
			})
		},
	}
}

func printCollisions(w io.Writer, cs []app.PairCollision) {
	for _, c := range cs {
		fmt.Fprintf(w, "  ! pair %s: %s\n", c.Pair.Key(), strings.Join(c.PalletIDs, ", "))
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
