package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/tempograph/internal/ir"
)

// SnapshotOptions holds flags for the snapshot command.
type SnapshotOptions struct {
	*RootOptions
	At   string
	Save bool
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print every live stat at a time",
		Long: `Print every stat in effect at the cursor, or at --at. With --save the
snapshot is also stored as a keyframe at the cursor, with its digest.

Examples:
  tempograph snapshot
  tempograph snapshot --at what-if@3.0 --format json
  tempograph snapshot --save`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Save && opts.At != "" {
				return NewExitError(ExitCommandError, "--save stores the cursor; it cannot be combined with --at")
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				return runSnapshot(ctx, s, opts, cmd)
			})
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "time to snapshot (default: cursor)")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "store the snapshot as a keyframe")

	return cmd
}

func runSnapshot(ctx context.Context, s *session, opts *SnapshotOptions, cmd *cobra.Command) error {
	at := s.engine.Now()
	if opts.At != "" {
		var err error
		if at, err = parseAt(opts.At, at); err != nil {
			return err
		}
	}

	var kf ir.Keyframe
	if opts.Save {
		var err error
		if kf, err = s.engine.SaveKeyframe(ctx); err != nil {
			return engineError("failed to save keyframe", err)
		}
	} else {
		facts, err := s.engine.Snapshot(ctx, at)
		if err != nil {
			return engineError("failed to snapshot", err)
		}
		if kf, err = ir.NewKeyframe(at, facts); err != nil {
			return engineError("failed to snapshot", err)
		}
	}

	data := map[string]any{
		"time":   kf.Time,
		"digest": kf.Digest,
		"facts":  factsToAny(kf.Facts),
		"saved":  opts.Save,
	}
	return newFormatter(cmd, opts.RootOptions).Print(data, func(w io.Writer) {
		for _, name := range slices.Sorted(maps.Keys(kf.Facts)) {
			fmt.Fprintf(w, "%s %s\n", name, ir.Format(kf.Facts[name]))
		}
		verb := "Digest"
		if opts.Save {
			verb = "Saved keyframe"
		}
		fmt.Fprintf(w, "%s %s at %s\n", verb, kf.Digest, kf.Time)
	})
}

func factsToAny(facts map[string]ir.Object) map[string]any {
	out := make(map[string]any, len(facts))
	for name, obj := range facts {
		out[name] = ir.ToAny(obj)
	}
	return out
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the stored fact log",
		Long: `Replay every stored fact in write order and check that sequence
numbers increase, every fact's branch exists, and no fact precedes its
branch's fork point.

Exit codes:
  0 - The log is consistent
  1 - One or more facts are inconsistent
  2 - Command error (unreadable database, etc.)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				report, err := s.engine.Verify(ctx)
				out := newFormatter(cmd, rootOpts)
				if err != nil && ir.IsStorageError(err) {
					return WrapExitError(ExitCommandError, "failed to read fact log", err)
				}
				if err != nil {
					if outErr := out.Fail("E_INCONSISTENT", err.Error(), report); outErr != nil {
						return outErr
					}
					return WrapExitError(ExitFailure, "fact log is inconsistent", err)
				}
				return out.Print(report, func(w io.Writer) {
					fmt.Fprintf(w, "✓ %d fact(s) over %d entit(ies) and %d branch(es), last seq %d\n",
						report.Facts, report.Entities, report.Branches, report.LastSeq)
				})
			})
		},
	}
}
