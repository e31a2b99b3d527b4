package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tempograph/internal/ir"
)

// GraphView is the JSON form of a graph change.
type GraphView struct {
	Graph  string  `json:"graph"`
	At     ir.Time `json:"at"`
	Exists bool    `json:"exists"`
}

// NewGraphCommand creates the graph command and its add and del
// subcommands.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "List, declare or delete graphs",
		Long: `Without a subcommand, list the graphs that exist at the cursor.

Deleting a graph unsets every node, edge and stat in it from the cursor
on. Earlier turns keep them.

Examples:
  tempograph graph
  tempograph graph add world
  tempograph graph del world`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				graphs, err := s.engine.Graphs(ctx)
				if err != nil {
					return engineError("failed to list graphs", err)
				}
				if graphs == nil {
					graphs = []string{}
				}
				return newFormatter(cmd, rootOpts).Print(graphs, func(w io.Writer) {
					for _, g := range graphs {
						fmt.Fprintln(w, g)
					}
				})
			})
		},
	}

	cmd.AddCommand(newGraphChangeCommand(rootOpts, "add", "Declare a graph at the cursor"))
	cmd.AddCommand(newGraphChangeCommand(rootOpts, "del", "Delete a graph and everything in it at the cursor"))
	return cmd
}

func newGraphChangeCommand(rootOpts *RootOptions, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:           verb + " <graph>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			graph := args[0]
			if graph == "" || strings.ContainsAny(graph, "/@") {
				return WrapExitError(ExitCommandError, "invalid graph name", fmt.Errorf("%q", graph))
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				var err error
				if verb == "add" {
					err = s.engine.AddGraph(ctx, graph)
				} else {
					err = s.engine.DelGraph(ctx, graph)
				}
				if err != nil {
					return engineError("failed to "+verb+" graph", err)
				}
				view := GraphView{Graph: graph, At: s.engine.Now(), Exists: verb == "add"}
				return newFormatter(cmd, rootOpts).Print(view, func(w io.Writer) {
					if view.Exists {
						fmt.Fprintf(w, "Graph %s added at %s\n", graph, view.At)
						return
					}
					fmt.Fprintf(w, "Graph %s deleted at %s\n", graph, view.At)
				})
			})
		},
	}
}
