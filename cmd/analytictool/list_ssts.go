package main

import (
	"context"
	"fmt"

	"github.com/chronodb/analytic/internal/manifest"
	"github.com/chronodb/analytic/internal/objstore"
	"github.com/chronodb/analytic/internal/sst"
	"github.com/spf13/cobra"
)

func newListSSTsCmd() *cobra.Command {
	var manifestPath, objstoreDir string
	var space, table uint64

	cmd := &cobra.Command{
		Use:   "list-ssts",
		Short: "List the SST files one table's manifest entry references",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := manifest.OpenFileStore(manifestPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			data, err := store.Load(ctx, spaceID(space), tableID(table))
			if err != nil {
				return err
			}
			if data == nil {
				return fmt.Errorf("list-ssts: space=%d table=%d not found in manifest", space, table)
			}

			var factory *sst.Factory
			if objstoreDir != "" {
				fs, err := objstore.NewLocalFS(objstoreDir)
				if err != nil {
					return err
				}
				factory = sst.NewFactory(fs)
			}

			out := cmd.OutOrStdout()
			for lvl, files := range data.Files {
				for _, f := range files {
					fmt.Fprintf(out, "level=%d file_id=%s rows=%d bytes=%d seq<=%d time_range=[%d,%d) index_cols=%d\n",
						lvl, f.FileID, f.RowCount, f.SizeBytes, f.MaxSequence, f.TimeRange.Start, f.TimeRange.End, len(f.Index))
					if factory == nil {
						continue
					}
					r, err := factory.NewReader(ctx, spaceID(space), tableID(table), f.FileID)
					if err != nil {
						fmt.Fprintf(out, "  (failed to open object: %v)\n", err)
						continue
					}
					fmt.Fprintf(out, "  compression=%s block_count=%d\n", r.Meta().Compression, len(r.Meta().BlockSizes))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "path to the manifest log file")
	cmd.Flags().StringVar(&objstoreDir, "objstore-dir", "", "local object store root, to cross-check each SST's footer")
	cmd.Flags().Uint64Var(&space, "space", 0, "space id")
	cmd.Flags().Uint64Var(&table, "table", 0, "table id")
	cmd.MarkFlagRequired("manifest")
	cmd.MarkFlagRequired("table")
	return cmd
}
