package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tempograph/internal/ir"
)

// StatView is the JSON form of one lookup.
type StatView struct {
	Entity string  `json:"entity"`
	Key    string  `json:"key"`
	At     ir.Time `json:"at"`
	State  string  `json:"state"`
	Value  any     `json:"value,omitempty"`
	From   string  `json:"from,omitempty"`
}

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	At string
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <entity> <key>",
		Short: "Read a stat",
		Long: `Read the value of a stat at the cursor, or at --at.

Entities are written graph, graph/node or graph/orig->dest.
Exits 1 if the stat is unset at that time.

Examples:
  tempograph get world/hero hp
  tempograph get world/hero hp --at trunk@2.0
  tempograph get 'world/hero->castle' distance`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseEntity(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				return runGet(ctx, s, opts, ref, args[1], cmd)
			})
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "time to read at (branch@turn.tick or turn.tick)")

	return cmd
}

func runGet(ctx context.Context, s *session, opts *GetOptions, ref ir.EntityRef, key string, cmd *cobra.Command) error {
	at := s.engine.Now()
	if opts.At != "" {
		var err error
		if at, err = parseAt(opts.At, at); err != nil {
			return err
		}
	}

	res, err := s.engine.StatAt(ctx, ref, key, at)
	if err != nil {
		return engineError("failed to read stat", err)
	}
	view := StatView{Entity: ref.String(), Key: key, At: at, State: res.State.String()}
	if res.State != ir.Absent {
		view.From = res.From.String()
	}
	if res.Ok() {
		view.Value = ir.ToAny(res.Value)
	}

	out := newFormatter(cmd, opts.RootOptions)
	if err := out.Print(view, func(w io.Writer) {
		if res.Ok() {
			fmt.Fprintln(w, ir.Format(res.Value))
			return
		}
		fmt.Fprintf(w, "%s %s is unset at %s\n", ref, key, at)
	}); err != nil {
		return err
	}
	out.Verbosef("state %s from %s", view.State, view.From)
	if !res.Ok() {
		return WrapExitError(ExitFailure, "stat is unset", ir.NewUnsetError(ref, key, at))
	}
	return nil
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <entity> <key> <value>",
		Short: "Write a stat at the cursor",
		Long: `Write a stat at the cursor. The value is parsed as JSON when it can
be; anything else is stored as a string.

Examples:
  tempograph set world/hero hp 10
  tempograph set world/hero name Ann
  tempograph set world/hero items '["sword","rope"]'`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseEntity(args[0])
			if err != nil {
				return err
			}
			key := args[1]
			value := ir.ParseLiteral(args[2])
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				if err := s.engine.SetStat(ctx, ref, key, value); err != nil {
					return engineError("failed to set stat", err)
				}
				view := StatView{Entity: ref.String(), Key: key, At: s.engine.Now(), State: ir.Present.String(), Value: ir.ToAny(value)}
				return newFormatter(cmd, rootOpts).Print(view, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s=%s at %s\n", ref, key, ir.Format(value), view.At)
				})
			})
		},
	}
}

// NewDelCommand creates the del command.
func NewDelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "del <entity> <key>",
		Short: "Unset a stat at the cursor",
		Long: `Unset a stat from the cursor on. Its earlier history stays readable.

Example:
  tempograph del world/hero hp`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseEntity(args[0])
			if err != nil {
				return err
			}
			key := args[1]
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				if err := s.engine.DelStat(ctx, ref, key); err != nil {
					return engineError("failed to delete stat", err)
				}
				view := StatView{Entity: ref.String(), Key: key, At: s.engine.Now(), State: ir.Deleted.String()}
				return newFormatter(cmd, rootOpts).Print(view, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s deleted at %s\n", ref, key, view.At)
				})
			})
		},
	}
}

// NewKeysCommand creates the keys command.
func NewKeysCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "keys <entity>",
		Short:         "List the stats an entity has at the cursor",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseEntity(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				keys, err := s.engine.StatKeys(ctx, ref)
				if err != nil {
					return engineError("failed to list keys", err)
				}
				if keys == nil {
					keys = []string{}
				}
				return newFormatter(cmd, rootOpts).Print(keys, func(w io.Writer) {
					for _, k := range keys {
						fmt.Fprintln(w, k)
					}
				})
			})
		},
	}
}

// RowView is the JSON form of one history entry.
type RowView struct {
	Turn    int64 `json:"turn"`
	Tick    int64 `json:"tick"`
	Value   any   `json:"value,omitempty"`
	Deleted bool  `json:"deleted,omitempty"`
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Branch string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <entity> <key>",
		Short: "List every write of a stat on one branch",
		Long: `List every write of a stat made on one branch, oldest first. Writes
inherited from ancestor branches are not included.

Example:
  tempograph history world/hero hp --branch what-if`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseEntity(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				return runHistory(ctx, s, opts, ref, args[1], cmd)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Branch, "branch", "", "branch to list (default: current)")

	return cmd
}

func runHistory(ctx context.Context, s *session, opts *HistoryOptions, ref ir.EntityRef, key string, cmd *cobra.Command) error {
	branch := opts.Branch
	if branch == "" {
		branch = s.engine.Now().Branch
	}
	if _, ok := s.engine.Branch(branch); !ok {
		return engineError("failed to read history",
			ir.NewTimeError(ir.ErrCodeUnknownBranch, ir.At(branch, 0, 0), "branch %q does not exist", branch))
	}

	rows, err := s.engine.History(ctx, ref, key, branch)
	if err != nil {
		return engineError("failed to read history", err)
	}
	views := make([]RowView, len(rows))
	for i, r := range rows {
		views[i] = RowView{Turn: r.Turn, Tick: r.Tick, Deleted: r.Deleted}
		if !r.Deleted {
			views[i].Value = ir.ToAny(r.Value)
		}
	}
	return newFormatter(cmd, opts.RootOptions).Print(views, func(w io.Writer) {
		if len(rows) == 0 {
			fmt.Fprintf(w, "No history for %s %s on %s\n", ref, key, branch)
			return
		}
		for _, r := range rows {
			if r.Deleted {
				fmt.Fprintf(w, "%d.%d deleted\n", r.Turn, r.Tick)
				continue
			}
			fmt.Fprintf(w, "%d.%d %s\n", r.Turn, r.Tick, ir.Format(r.Value))
		}
	})
}
