package manifest

import (
	"bytes"
	"context"
	"encoding/gob"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/chronodb/analytic/internal/base"
	"github.com/cockroachdb/errors"
)

// Store is the abstract manifest log spec.md §6.3 requires: "the core
// depends only on linearizable apply(edit) and load(space, table, shard) ->
// TableManifestData". The exact on-disk encoding is explicitly a backend
// concern (spec.md §1); Store is implemented here as an in-process log
// whose every Apply is folded at once into a per-table materialized
// snapshot, suitable for tests and for a single-process embedding of the
// engine.
type Store interface {
	Apply(ctx context.Context, edit MetaEdit) error
	Load(ctx context.Context, space base.SpaceID, table base.TableID) (*TableManifestData, error)
}

// TableManifestData is the durable table metadata reconstructed from the
// manifest on open, per spec.md §4.8 step 1.
type TableManifestData struct {
	TableName       string
	ShardID         base.ShardID
	Schema          base.Schema
	Options         map[string]string
	Dropped         bool
	NextFileID      base.FileID
	FlushedSequence base.SequenceNumber
	Files           map[Level][]FileMeta
}

type tableKey struct {
	space base.SpaceID
	table base.TableID
}

// MemStore is an in-memory Store: every Apply appends to a per-table edit
// log and folds it into a materialized TableManifestData, matching the
// tag-encoded fold loop other_examples' pebble version_edit.go performs at
// manifest-replay time, just eagerly rather than lazily.
type MemStore struct {
	mu   sync.Mutex
	data map[tableKey]*TableManifestData
	log  [][]byte // checksummed, gob-encoded MetaEdit records, append-only
}

// NewMemStore returns an empty manifest store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[tableKey]*TableManifestData)}
}

type envelope struct {
	Edit     MetaEdit
	Checksum uint64
}

func encodeEdit(edit MetaEdit) ([]byte, error) {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(edit); err != nil {
		return nil, err
	}
	sum := xxhash.Sum64(payload.Bytes())
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Edit: edit, Checksum: sum}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEdit(raw []byte) (MetaEdit, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&env); err != nil {
		return MetaEdit{}, err
	}
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(env.Edit); err != nil {
		return MetaEdit{}, err
	}
	if xxhash.Sum64(payload.Bytes()) != env.Checksum {
		return MetaEdit{}, base.NewKind(base.KindManifest, "manifest: checksum mismatch, corrupt record")
	}
	return env.Edit, nil
}

// Apply appends edit to the log and folds it into the in-memory snapshot.
func (s *MemStore) Apply(_ context.Context, edit MetaEdit) error {
	raw, err := encodeEdit(edit)
	if err != nil {
		return base.WithKind(errors.Wrap(err, "manifest: encode edit"), base.KindManifest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, raw)
	key := tableKey{space: edit.Space, table: edit.Table}
	tbl, ok := s.data[key]
	if !ok {
		tbl = &TableManifestData{Files: make(map[Level][]FileMeta)}
		s.data[key] = tbl
	}
	foldEdit(tbl, edit)
	return nil
}

func foldEdit(tbl *TableManifestData, edit MetaEdit) {
	switch edit.Kind {
	case EditAddTable:
		tbl.TableName = edit.TableName
		tbl.Schema = edit.Schema
		tbl.ShardID = edit.ShardID
		tbl.Options = edit.Options
	case EditDropTable:
		tbl.Dropped = true
	case EditAlterSchema:
		tbl.Schema = edit.NewSchema
	case EditAlterOptions:
		if tbl.Options == nil {
			tbl.Options = make(map[string]string)
		}
		for k, v := range edit.Options {
			tbl.Options[k] = v
		}
	case EditVersion:
		removeByLevel := make(map[Level]map[base.FileID]struct{})
		for _, rm := range edit.Version.RemoveFiles {
			m, ok := removeByLevel[rm.Level]
			if !ok {
				m = make(map[base.FileID]struct{})
				removeByLevel[rm.Level] = m
			}
			m[rm.FileID] = struct{}{}
		}
		for lvl, ids := range removeByLevel {
			kept := tbl.Files[lvl][:0]
			for _, f := range tbl.Files[lvl] {
				if _, drop := ids[f.FileID]; !drop {
					kept = append(kept, f)
				}
			}
			tbl.Files[lvl] = kept
		}
		for _, add := range edit.Version.AddFiles {
			tbl.Files[add.Level] = append(tbl.Files[add.Level], add.Meta)
			if add.Meta.FileID >= tbl.NextFileID {
				tbl.NextFileID = add.Meta.FileID + 1
			}
		}
		if edit.Version.HasFlushedSequence && edit.Version.FlushedSequence > tbl.FlushedSequence {
			tbl.FlushedSequence = edit.Version.FlushedSequence
		}
	}
}

// Load returns the materialized manifest data for (space, table), or nil if
// no edits have ever been applied for it.
func (s *MemStore) Load(_ context.Context, space base.SpaceID, table base.TableID) (*TableManifestData, error) {
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

// LogLen exposes the number of applied records, for tests that assert
// replay-from-snapshot behavior doesn't silently drop edits.
func (s *MemStore) LogLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.log)
}
