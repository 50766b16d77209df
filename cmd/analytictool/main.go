// Command analytictool is a debug and introspection CLI over an
// analytic engine's on-disk state: its manifest log, its SST objects and
// its WAL partitions. It never opens an Engine itself (so it can inspect
// state a live process is using) and never writes to the backing store it
// is pointed at, though opening a manifest, WAL or object-store path that
// does not exist yet creates it empty.
//
// Grounded on the teacher's own cmd/pebble tool shape (one cobra root,
// one subcommand per introspection task) — see
// other_examples/b7c7874a_patrick-ogrady-pebble__tool-wal.go.go and
// other_examples/6ed16ed5_will-2012-pebble__checkpoint.go.go.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "analytictool",
		Short: "Inspect an analytic engine's manifest, SSTs and WAL without opening it",
	}
	root.AddCommand(
		newDumpManifestCmd(),
		newListSSTsCmd(),
		newReplayWALCmd(),
		newGraphCompactionsCmd(),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
