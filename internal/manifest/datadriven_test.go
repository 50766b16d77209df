package manifest

import (
	"context"
	"fmt"
	"testing"

	"github.com/chronodb/analytic/internal/base"
	"github.com/cockroachdb/datadriven"
)

// TestFold runs the edit-folding commands in testdata/fold against a
// MemStore, in the style the teacher's own pack uses datadriven for
// sequence-of-operations tests (apply a command, compare the printed
// state against the checked-in expectation).
func TestFold(t *testing.T) {
	ctx := context.Background()
	const space base.SpaceID = 1
	var s *MemStore

	datadriven.RunTest(t, "testdata/fold", func(d *datadriven.TestData) string {
		var table uint64
		d.ScanArgs(t, "table", &table)
		tid := base.TableID(table)

		switch d.Cmd {
		case "add-table":
			var name string
			d.ScanArgs(t, "name", &name)
			s = NewMemStore()
			if err := s.Apply(ctx, MetaEdit{Kind: EditAddTable, Space: space, Table: tid, TableName: name}); err != nil {
				return err.Error()
			}
			return "ok"

		case "add-file":
			var level, file, start, end int
			var rows, bytes uint64
			d.ScanArgs(t, "level", &level)
			d.ScanArgs(t, "file", &file)
			d.ScanArgs(t, "start", &start)
			d.ScanArgs(t, "end", &end)
			d.ScanArgs(t, "rows", &rows)
			d.ScanArgs(t, "bytes", &bytes)
			err := s.Apply(ctx, MetaEdit{
				Kind: EditVersion, Space: space, Table: tid,
				Version: VersionEdit{AddFiles: []AddedFile{{
					Level: Level(level),
					Meta: FileMeta{
						FileID: base.FileID(file),
						TimeRange: base.TimeRange{
							Start: base.Timestamp(start),
							End:   base.Timestamp(end),
						},
						RowCount: rows, SizeBytes: bytes,
					},
				}}},
			})
			if err != nil {
				return err.Error()
			}
			return "ok"

		case "remove-file":
			var level, file int
			d.ScanArgs(t, "level", &level)
			d.ScanArgs(t, "file", &file)
			err := s.Apply(ctx, MetaEdit{
				Kind: EditVersion, Space: space, Table: tid,
				Version: VersionEdit{RemoveFiles: []RemovedFile{{Level: Level(level), FileID: base.FileID(file)}}},
			})
			if err != nil {
				return err.Error()
			}
			return "ok"

		case "drop-table":
			if err := s.Apply(ctx, MetaEdit{Kind: EditDropTable, Space: space, Table: tid}); err != nil {
				return err.Error()
			}
			return "ok"

		case "load":
			data, err := s.Load(ctx, space, tid)
			if err != nil {
				return err.Error()
			}
			return fmt.Sprintf("name=%s dropped=%v next_file_id=%d flushed_sequence=%d\nlevel=0 files=%d",
				data.TableName, data.Dropped, data.NextFileID, data.FlushedSequence, len(data.Files[Level0]))

		default:
			t.Fatalf("unknown command %q", d.Cmd)
			return ""
		}
	})
}
