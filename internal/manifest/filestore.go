package manifest

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/chronodb/analytic/internal/base"
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// FileStore is a Store backed by a single append-only log file shared by
// every table: each record is a length-prefixed, checksummed MetaEdit
// envelope (the same envelope MemStore folds in memory), fsynced on every
// Apply, the same length-prefix-and-fsync discipline wal.FileLog applies to
// WAL partitions. On open the whole log is replayed and folded once.
// Durability for a
// single-process embedding; a real multi-writer deployment would replace
// this with a replicated log, per spec.md §6.3's backend boundary.
type FileStore struct {
	mu   sync.Mutex
	f    *os.File
	data map[tableKey]*TableManifestData
}

// OpenFileStore opens (creating if necessary) the manifest log at path and
// replays it into memory.
func OpenFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "manifest: open")
	}
	s := &FileStore{f: f, data: make(map[tableKey]*TableManifestData)}
	if err := s.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *FileStore) replay() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "manifest: seek")
	}
	var lenPrefix [4]byte
	for {
		if _, err := io.ReadFull(s.f, lenPrefix[:]); err != nil {
			if err == io.EOF {
				break
			}
			return base.NewKind(base.KindManifest, "manifest: truncated length prefix")
		}
		n := binary.LittleEndian.Uint32(lenPrefix[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(s.f, body); err != nil {
			return base.NewKind(base.KindManifest, "manifest: truncated record")
		}
		edit, err := decodeEdit(body)
		if err != nil {
			return err
		}
		s.fold(edit)
	}
	_, err := s.f.Seek(0, io.SeekEnd)
	return err
}

func (s *FileStore) fold(edit MetaEdit) {
	key := tableKey{space: edit.Space, table: edit.Table}
	tbl, ok := s.data[key]
	if !ok {
		tbl = &TableManifestData{Files: make(map[Level][]FileMeta)}
		s.data[key] = tbl
	}
	foldEdit(tbl, edit)
}

// Apply appends edit to the log, fsyncs, and folds it into memory.
func (s *FileStore) Apply(_ context.Context, edit MetaEdit) error {
	raw, err := encodeEdit(edit)
	if err != nil {
		return base.WithKind(errors.Wrap(err, "manifest: encode edit"), base.KindManifest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(raw)))
	if _, err := s.f.Write(lenPrefix[:]); err != nil {
		return base.WithKind(errors.Wrap(err, "manifest: append"), base.KindManifest)
	}
	if _, err := s.f.Write(raw); err != nil {
		return base.WithKind(errors.Wrap(err, "manifest: append"), base.KindManifest)
	}
	if err := unix.Fsync(int(s.f.Fd())); err != nil {
		return base.WithKind(errors.Wrap(err, "manifest: fsync"), base.KindManifest)
	}
	s.fold(edit)
	return nil
}

// Load returns the materialized manifest data for (space, table), or nil if
// no edits have ever been applied for it.
func (s *FileStore) Load(_ context.Context, space base.SpaceID, table base.TableID) (*TableManifestData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, ok := s.data[tableKey{space: space, table: table}]
	if !ok {
		return nil, nil
	}
	clone := *tbl
	clone.Files = make(map[Level][]FileMeta, len(tbl.Files))
	for lvl, files := range tbl.Files {
		clone.Files[lvl] = append([]FileMeta(nil), files...)
	}
	return &clone, nil
}

// TableRef names one table with an applied edit in the log, for callers
// (cmd/analytictool's dump-manifest) that need to enumerate every table
// without already knowing its identity.
type TableRef struct {
	Space base.SpaceID
	Table base.TableID
}

// Tables returns every (space, table) pair with at least one folded edit.
func (s *FileStore) Tables() []TableRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make([]TableRef, 0, len(s.data))
	for k := range s.data {
		refs = append(refs, TableRef{Space: k.space, Table: k.table})
	}
	return refs
}

// Close releases the underlying file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Edits re-reads the log from disk and returns every decoded MetaEdit in
// append order, for tools that want to inspect the raw edit stream rather
// than the folded snapshot (e.g. cmd/analytictool's graph-compactions,
// which needs each EditVersion's individual AddFiles/RemoveFiles to plot a
// level-size history).
func (s *FileStore) Edits() ([]MetaEdit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "manifest: seek")
	}
	defer s.f.Seek(0, io.SeekEnd)

	var edits []MetaEdit
	var lenPrefix [4]byte
	for {
		if _, err := io.ReadFull(s.f, lenPrefix[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, base.NewKind(base.KindManifest, "manifest: truncated length prefix")
		}
		n := binary.LittleEndian.Uint32(lenPrefix[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(s.f, body); err != nil {
			return nil, base.NewKind(base.KindManifest, "manifest: truncated record")
		}
		edit, err := decodeEdit(body)
		if err != nil {
			return nil, err
		}
		edits = append(edits, edit)
	}
	return edits, nil
}
