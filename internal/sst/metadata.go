package sst

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/cespare/xxhash/v2"
	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/manifest"
	"github.com/cockroachdb/errors"
)

// MetaData is the SST footer: spec.md §6.3's "footer carries a protobuf
// SstMetaData{min_key, max_key, time_range, max_sequence, schema, size,
// row_num, index_map}". We encode it as a gob struct checksummed with
// xxhash rather than protobuf, since no protobuf dependency survived into
// this module's go.mod (see DESIGN.md's dropped-deps list). The object's
// byte size is not stored here (FileMeta.SizeBytes carries it); Compression
// and BlockSizes are extra fields the reader needs to decode the blocks.
type MetaData struct {
	MinKey      []byte
	MaxKey      []byte
	TimeRange   base.TimeRange
	MaxSequence base.SequenceNumber
	Schema      base.Schema
	RowCount    uint64
	Index       manifest.IndexMap
	Compression Compression
	BlockSizes  []uint32 // byte length of each compressed row-group block, in file order
}

// encodeFooter gob-encodes md and appends an 8-byte xxhash checksum
// followed by a 4-byte little-endian length of the whole footer, so a
// reader can seek from EOF to find the footer start.
func encodeFooter(md MetaData) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(md); err != nil {
		return nil, errors.Wrap(err, "sst: encode footer")
	}
	sum := xxhash.Sum64(buf.Bytes())

	var out bytes.Buffer
	out.Write(buf.Bytes())
	var sumBuf [8]byte
	binary.LittleEndian.PutUint64(sumBuf[:], sum)
	out.Write(sumBuf[:])
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(buf.Len()+len(sumBuf)+len(lenBuf)))
	out.Write(lenBuf[:])
	return out.Bytes(), nil
}

// decodeFooter is the inverse of encodeFooter; raw must be exactly the
// footer bytes (caller uses the trailing 4-byte length to slice it out of
// the file).
func decodeFooter(raw []byte) (MetaData, error) {
	if len(raw) < 12 {
		return MetaData{}, base.NewKind(base.KindSstRead, "sst: footer too short (%d bytes)", len(raw))
	}
	body := raw[:len(raw)-12]
	wantSum := binary.LittleEndian.Uint64(raw[len(raw)-12 : len(raw)-4])
	if xxhash.Sum64(body) != wantSum {
		return MetaData{}, base.NewKind(base.KindSstRead, "sst: footer checksum mismatch")
	}
	var md MetaData
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&md); err != nil {
		return MetaData{}, base.WithKind(errors.Wrap(err, "sst: decode footer"), base.KindSstRead)
	}
	return md, nil
}
