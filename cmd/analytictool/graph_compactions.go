package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/chronodb/analytic/internal/manifest"
	"github.com/ghemawat/stream"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
)

func newGraphCompactionsCmd() *cobra.Command {
	var manifestPath, filter string
	var space, table uint64
	var level int

	cmd := &cobra.Command{
		Use:   "graph-compactions",
		Short: "Plot a level's total SST bytes over the manifest's edit history",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := manifest.OpenFileStore(manifestPath)
			if err != nil {
				return err
			}
			defer store.Close()

			edits, err := store.Edits()
			if err != nil {
				return err
			}

			sz := map[manifest.Level]uint64{}
			var series []float64
			var lines []string
			for _, e := range edits {
				if e.Kind != manifest.EditVersion || e.Space != spaceID(space) || e.Table != tableID(table) {
					continue
				}
				for _, rm := range e.Version.RemoveFiles {
					// Sizes aren't carried on RemovedFile; approximate removal
					// by dropping the level's running total to 0 whenever any
					// file is removed from the graphed level, so the figure
					// undercounts when only some of its files are replaced.
					if rm.Level == manifest.Level(level) {
						sz[rm.Level] = 0
					}
				}
				for _, add := range e.Version.AddFiles {
					sz[add.Level] += add.Meta.SizeBytes
				}
				total := sz[manifest.Level(level)]
				series = append(series, float64(total))
				lines = append(lines, fmt.Sprintf("level=%d total_bytes=%d", level, total))
			}

			out := cmd.OutOrStdout()
			if filter != "" {
				tmp, err := os.CreateTemp("", "graph-compactions-*.log")
				if err != nil {
					return err
				}
				defer os.Remove(tmp.Name())
				if _, err := tmp.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
					tmp.Close()
					return err
				}
				tmp.Close()
				if err := stream.Run(stream.ReadLines(tmp.Name()), stream.Grep(filter), stream.WriteLines(out)); err != nil {
					return err
				}
			} else {
				for _, l := range lines {
					fmt.Fprintln(out, l)
				}
			}

			if len(series) == 0 {
				fmt.Fprintln(out, "no EditVersion edits for this table")
				return nil
			}
			graph := asciigraph.Plot(series,
				asciigraph.Height(12),
				asciigraph.Caption(fmt.Sprintf("level %d bytes over time", level)))
			fmt.Fprintln(out, graph)
			return nil
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "path to the manifest log file")
	cmd.Flags().StringVar(&filter, "filter", "", "grep-style regex to filter the edit lines before display")
	cmd.Flags().Uint64Var(&space, "space", 0, "space id")
	cmd.Flags().Uint64Var(&table, "table", 0, "table id")
	cmd.Flags().IntVar(&level, "level", 0, "level to graph (0 = L0)")
	cmd.MarkFlagRequired("manifest")
	cmd.MarkFlagRequired("table")
	return cmd
}
