package wal

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"io"
	"os"
	"sync"

	"github.com/chronodb/analytic/internal/base"
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// FileLog is a Log backed by a single append-only file: each entry is
// length-prefixed gob, fsynced on every Append, the same durability
// discipline objstore.LocalFS applies to SST puts. MarkDeleteUpTo compacts
// the file in place by rewriting only the surviving entries, since a WAL
// partition has no concurrent readers while it is being trimmed.
type FileLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenFileLog opens (creating if necessary) the WAL partition file at path.
func OpenFileLog(path string) (*FileLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "wal: open")
	}
	return &FileLog{path: path, f: f}, nil
}

func (l *FileLog) Append(_ context.Context, entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entries {
		if err := writeEntry(l.f, e); err != nil {
			return errors.Wrap(err, "wal: append")
		}
	}
	if err := unix.Fsync(int(l.f.Fd())); err != nil {
		return errors.Wrap(err, "wal: fsync")
	}
	return nil
}

func (l *FileLog) Read(_ context.Context, after base.SequenceNumber, batchSize int, fn func([]Entry) error) error {
	if batchSize <= 0 {
		batchSize = 1
	}
	l.mu.Lock()
	entries, err := readAllLocked(l.path)
	l.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "wal: read")
	}

	var batch []Entry
	for _, e := range entries {
		if e.Sequence <= after {
			continue
		}
		batch = append(batch, e)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = nil
		}
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

func (l *FileLog) MarkDeleteUpTo(_ context.Context, seq base.SequenceNumber) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := readAllLocked(l.path)
	if err != nil {
		return errors.Wrap(err, "wal: compact read")
	}
	var kept []Entry
	if seq != SeqMax {
		for _, e := range entries {
			if e.Sequence > seq {
				kept = append(kept, e)
			}
		}
	}

	if err := l.f.Close(); err != nil {
		return err
	}
	tmp := l.path + ".compact"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "wal: compact create")
	}
	for _, e := range kept {
		if err := writeEntry(f, e); err != nil {
			f.Close()
			return errors.Wrap(err, "wal: compact write")
		}
	}
	if err := unix.Fsync(int(f.Fd())); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return errors.Wrap(err, "wal: compact rename")
	}
	l.f, err = os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	return err
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

func writeEntry(f *os.File, e Entry) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return err
	}
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := f.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := f.Write(buf.Bytes())
	return err
}

func readAllLocked(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	var lenPrefix [4]byte
	for {
		if _, err := io.ReadFull(f, lenPrefix[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(err, "wal: truncated length prefix")
		}
		n := binary.LittleEndian.Uint32(lenPrefix[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(f, body); err != nil {
			return nil, errors.Wrap(err, "wal: truncated entry")
		}
		var e Entry
		if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&e); err != nil {
			return nil, errors.Wrap(err, "wal: decode entry")
		}
		entries = append(entries, e)
	}
	return entries, nil
}
