package main

import (
	"context"
	"fmt"

	"github.com/chronodb/analytic/internal/manifest"
	"github.com/google/uuid"
	"github.com/kr/pretty"
	"github.com/spf13/cobra"
)

func newDumpManifestCmd() *cobra.Command {
	var manifestPath string
	var space, table uint64

	cmd := &cobra.Command{
		Use:   "dump-manifest",
		Short: "Print the tables and file sets recorded in a manifest log",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := manifest.OpenFileStore(manifestPath)
			if err != nil {
				return err
			}
			defer store.Close()

			runID := uuid.New()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dump-manifest run_id=%s path=%s\n", runID, manifestPath)

			refs := store.Tables()
			if table != 0 {
				refs = []manifest.TableRef{{Space: spaceID(space), Table: tableID(table)}}
			}

			ctx := context.Background()
			for _, ref := range refs {
				data, err := store.Load(ctx, ref.Space, ref.Table)
				if err != nil {
					return err
				}
				if data == nil {
					fmt.Fprintf(out, "space=%s table=%s: not found\n", ref.Space, ref.Table)
					continue
				}
				fmt.Fprintf(out, "space=%s table=%s name=%q dropped=%v next_file_id=%d flushed_sequence=%d\n",
					ref.Space, ref.Table, data.TableName, data.Dropped, data.NextFileID, data.FlushedSequence)
				fmt.Fprintf(out, "  schema: %# v\n", pretty.Formatter(data.Schema))
				fmt.Fprintf(out, "  options: %# v\n", pretty.Formatter(data.Options))
				for lvl, files := range data.Files {
					fmt.Fprintf(out, "  level %d: %d file(s)\n", lvl, len(files))
					for _, f := range files {
						fmt.Fprintf(out, "    file_id=%s rows=%d bytes=%d time_range=[%d,%d)\n",
							f.FileID, f.RowCount, f.SizeBytes, f.TimeRange.Start, f.TimeRange.End)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "path to the manifest log file")
	cmd.Flags().Uint64Var(&space, "space", 0, "restrict to one space id (with --table)")
	cmd.Flags().Uint64Var(&table, "table", 0, "restrict to one table id (with --space)")
	cmd.MarkFlagRequired("manifest")
	return cmd
}
