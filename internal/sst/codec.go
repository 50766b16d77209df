// Package sst implements the SST (sorted string table) factory: readers and
// writers for the immutable columnar files flush and compaction produce.
// spec.md §6.3 leaves the payload format to "columnar (Parquet-family)"; we
// encode row groups with a light binary format and make the block
// compression codec pluggable, giving every compression dependency the
// teacher's go.mod carries (snappy, klauspost zstd, DataDog cgo zstd) a
// concrete home, the same way pebble itself supports multiple sstable block
// compressors.
package sst

import (
	"github.com/DataDog/zstd"
	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
	kzstd "github.com/klauspost/compress/zstd"
)

// Compression selects the block codec used when writing an SST.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionSnappy
	CompressionZstd    // github.com/klauspost/compress/zstd, pure Go
	CompressionZstdCgo // github.com/DataDog/zstd, cgo binding, higher ratio/slower
)

func (c Compression) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	case CompressionZstdCgo:
		return "zstd-cgo"
	default:
		return "none"
	}
}

// codec compresses/decompresses one block.
type codec interface {
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

func codecFor(c Compression) (codec, error) {
	switch c {
	case CompressionNone:
		return noneCodec{}, nil
	case CompressionSnappy:
		return snappyCodec{}, nil
	case CompressionZstd:
		return kzstdCodec{}, nil
	case CompressionZstdCgo:
		return datadogZstdCodec{}, nil
	default:
		return nil, errors.Newf("sst: unknown compression %d", c)
	}
}

type noneCodec struct{}

func (noneCodec) Encode(src []byte) ([]byte, error) { return src, nil }
func (noneCodec) Decode(src []byte) ([]byte, error) { return src, nil }

type snappyCodec struct{}

func (snappyCodec) Encode(src []byte) ([]byte, error) { return snappy.Encode(nil, src), nil }
func (snappyCodec) Decode(src []byte) ([]byte, error) { return snappy.Decode(nil, src) }

type kzstdCodec struct{}

func (kzstdCodec) Encode(src []byte) ([]byte, error) {
	enc, err := kzstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}

func (kzstdCodec) Decode(src []byte) ([]byte, error) {
	dec, err := kzstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(src, nil)
}

type datadogZstdCodec struct{}

func (datadogZstdCodec) Encode(src []byte) ([]byte, error) { return zstd.Compress(nil, src) }
func (datadogZstdCodec) Decode(src []byte) ([]byte, error) { return zstd.Decompress(nil, src) }
