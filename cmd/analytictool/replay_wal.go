package main

import (
	"context"
	"fmt"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/wal"
	"github.com/spf13/cobra"
)

func newReplayWALCmd() *cobra.Command {
	var walPath string
	var after uint64
	var batchSize int

	cmd := &cobra.Command{
		Use:   "replay-wal",
		Short: "Print every WAL entry after a given sequence number",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := wal.OpenFileLog(walPath)
			if err != nil {
				return err
			}
			defer l.Close()

			out := cmd.OutOrStdout()
			ctx := context.Background()
			return l.Read(ctx, base.SequenceNumber(after), batchSize, func(entries []wal.Entry) error {
				for _, e := range entries {
					fmt.Fprintf(out, "seq=%d table=%s kind=%s", e.Sequence, e.Table, e.Kind)
					switch e.Kind {
					case wal.PayloadWrite:
						fmt.Fprintf(out, " rows=%d schema_version=%d\n", len(e.Rows), e.SchemaVersion)
					case wal.PayloadAlterSchema:
						fmt.Fprintf(out, " schema_version=%d\n", e.SchemaVersion)
					case wal.PayloadAlterOptions:
						fmt.Fprintf(out, " options=%v\n", e.Options)
					default:
						fmt.Fprintln(out)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&walPath, "wal", "", "path to the WAL partition file")
	cmd.Flags().Uint64Var(&after, "after", 0, "only print entries with sequence greater than this")
	cmd.Flags().IntVar(&batchSize, "batch-size", 500, "entries per Read batch")
	cmd.MarkFlagRequired("wal")
	return cmd
}
