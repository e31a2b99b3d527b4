package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tempograph/internal/ir"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database and its root branch",
		Long: `Create the configured database if it does not exist and persist the
root branch and cursor. Running init on an existing database is a no-op
apart from reporting its state.

Example:
  tempograph init --db ./world.db
  tempograph init --backend badger --db ./world.badger`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				if err := s.engine.Commit(ctx); err != nil {
					return engineError("failed to initialize database", err)
				}
				data := map[string]any{
					"backend": s.cfg.Storage.Backend,
					"path":    s.cfg.Storage.Path,
					"now":     s.engine.Now(),
				}
				return newFormatter(cmd, rootOpts).Print(data, func(w io.Writer) {
					fmt.Fprintf(w, "Initialized %s database at %s\n", s.cfg.Storage.Backend, s.cfg.Storage.Path)
					fmt.Fprintf(w, "Cursor: %s\n", s.engine.Now())
				})
			})
		},
	}
}

// NewNowCommand creates the now command.
func NewNowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "now",
		Short:         "Print the cursor",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				now := s.engine.Now()
				return newFormatter(cmd, rootOpts).Print(now, func(w io.Writer) {
					fmt.Fprintln(w, now)
				})
			})
		},
	}
}

// TravelOptions holds flags for the travel command.
type TravelOptions struct {
	*RootOptions
	NextTurn bool
	NextTick bool
}

// NewTravelCommand creates the travel command.
func NewTravelCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TravelOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "travel [branch@turn.tick | turn.tick]",
		Short: "Move the cursor",
		Long: `Move the cursor to a time. Without a branch the current one is kept.
The new cursor is persisted.

Examples:
  tempograph travel trunk@3.0
  tempograph travel 5
  tempograph travel --next-turn
  tempograph travel --next-tick`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := len(args)
			if opts.NextTurn {
				steps++
			}
			if opts.NextTick {
				steps++
			}
			if steps != 1 {
				return NewExitError(ExitCommandError, "give exactly one of a time, --next-turn or --next-tick")
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				return runTravel(ctx, s, opts, args, cmd)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.NextTurn, "next-turn", false, "travel to the next turn")
	cmd.Flags().BoolVar(&opts.NextTick, "next-tick", false, "travel one tick forward")

	return cmd
}

func runTravel(ctx context.Context, s *session, opts *TravelOptions, args []string, cmd *cobra.Command) error {
	from := s.engine.Now()
	var err error
	switch {
	case opts.NextTurn:
		err = s.engine.NextTurn(ctx)
	case opts.NextTick:
		_, err = s.engine.NextTick(ctx)
	default:
		var to ir.Time
		if to, err = parseAt(args[0], from); err != nil {
			return err
		}
		err = s.engine.TimeTravel(ctx, to)
	}
	if err != nil {
		return engineError("failed to travel", err)
	}

	now := s.engine.Now()
	data := map[string]ir.Time{"from": from, "now": now}
	return newFormatter(cmd, opts.RootOptions).Print(data, func(w io.Writer) {
		fmt.Fprintf(w, "%s -> %s\n", from, now)
	})
}

// BranchOptions holds flags for the branch command.
type BranchOptions struct {
	*RootOptions
	Parent string
	At     string
	Switch bool
}

// NewBranchCommand creates the branch command.
func NewBranchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BranchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "branch [name]",
		Short: "List branches or fork a new one",
		Long: `Without arguments, list every branch with its fork point and end.
With a name, fork a new branch from --parent (default: the cursor's
branch) at --at (default: the cursor's turn and tick).

Examples:
  tempograph branch
  tempograph branch what-if
  tempograph branch what-if --parent trunk --at 2.0 --switch`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				if len(args) == 0 {
					return listBranches(s, opts, cmd)
				}
				return createBranch(ctx, s, opts, args[0], cmd)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Parent, "parent", "", "parent branch (default: current)")
	cmd.Flags().StringVar(&opts.At, "at", "", "fork point as turn.tick (default: cursor)")
	cmd.Flags().BoolVar(&opts.Switch, "switch", false, "move the cursor onto the new branch")

	return cmd
}

func listBranches(s *session, opts *BranchOptions, cmd *cobra.Command) error {
	branches := s.engine.Branches()
	current := s.engine.Now().Branch
	return newFormatter(cmd, opts.RootOptions).Print(branches, func(w io.Writer) {
		for _, b := range branches {
			marker := " "
			if b.ID == current {
				marker = "*"
			}
			if b.IsRoot() {
				fmt.Fprintf(w, "%s %s (root) end %d.%d\n", marker, b.ID, b.EndTurn, b.EndTick)
				continue
			}
			fmt.Fprintf(w, "%s %s from %s end %d.%d\n", marker, b.ID,
				ir.At(b.Parent, b.ForkTurn, b.ForkTick), b.EndTurn, b.EndTick)
		}
	})
}

func createBranch(ctx context.Context, s *session, opts *BranchOptions, name string, cmd *cobra.Command) error {
	now := s.engine.Now()
	parent := opts.Parent
	if parent == "" {
		parent = now.Branch
	}
	at := now
	if opts.At != "" {
		var err error
		if at, err = parseAt(opts.At, now); err != nil {
			return err
		}
	}

	b, err := s.engine.NewBranch(ctx, parent, name, at.Turn, at.Tick)
	if err != nil {
		return engineError("failed to create branch", err)
	}
	if opts.Switch {
		if err := s.engine.TimeTravel(ctx, ir.At(b.ID, b.ForkTurn, b.ForkTick)); err != nil {
			return engineError("failed to switch branch", err)
		}
	}
	return newFormatter(cmd, opts.RootOptions).Print(b, func(w io.Writer) {
		fmt.Fprintf(w, "Created branch %s from %s\n", b.ID, ir.At(b.Parent, b.ForkTurn, b.ForkTick))
		if opts.Switch {
			fmt.Fprintf(w, "Cursor: %s\n", s.engine.Now())
		}
	})
}
