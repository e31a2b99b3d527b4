package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tempograph/internal/ir"
	"github.com/roach88/tempograph/internal/seed"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <world.cue>",
		Short: "Load a CUE world file",
		Long: `Compile a CUE world file and write its graphs, nodes, edges and
stats on the current branch at the file's "at" time.

Example:
  tempograph seed ./world.cue

A world file looks like:

  at: {turn: 0, tick: 0}
  graphs: world: {
    stats: {weather: "rain"}
    nodes: hero: {hp: 10}
    nodes: castle: {}
    edges: [{from: "hero", to: "castle", stats: {distance: 3}}]
  }`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			world, err := seed.Load(args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "failed to compile world", err)
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				return runSeed(ctx, s, rootOpts, world, cmd)
			})
		},
	}
}

func runSeed(ctx context.Context, s *session, opts *RootOptions, world *seed.World, cmd *cobra.Command) error {
	at := ir.At(s.engine.Now().Branch, world.Turn, world.Tick)
	if err := s.engine.TimeTravel(ctx, at); err != nil {
		return engineError("failed to travel to seed time", err)
	}
	report, err := world.Apply(ctx, s.engine)
	if err != nil {
		return engineError("failed to seed world", err)
	}
	s.logger.Info("world seeded",
		"graphs", report.Graphs,
		"nodes", report.Nodes,
		"edges", report.Edges,
		"stats", report.Stats,
	)

	data := map[string]any{"at": at, "report": report}
	return newFormatter(cmd, opts).Print(data, func(w io.Writer) {
		fmt.Fprintf(w, "Seeded %d graph(s), %d node(s), %d edge(s), %d stat(s) at %s\n",
			report.Graphs, report.Nodes, report.Edges, report.Stats, at)
	})
}
