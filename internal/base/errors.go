package base

import "github.com/cockroachdb/errors"

// Kind classifies an error into the taxonomy of spec.md §7, so callers can
// branch on category without string-matching messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindSchemaMismatch
	KindTooLarge
	KindWAL
	KindManifest
	KindSstRead
	KindSstWrite
	KindFlushFailed
	KindCompactionFailed
	KindTableNotFound
	KindTableAlreadyExists
	KindTableClosed
	KindTableDropped
	KindSchedulerBusy
	KindRecoverFailed
)

func (k Kind) String() string {
	switch k {
	case KindSchemaMismatch:
		return "SchemaMismatch"
	case KindTooLarge:
		return "TooLarge"
	case KindWAL:
		return "WalError"
	case KindManifest:
		return "ManifestError"
	case KindSstRead:
		return "SstReadError"
	case KindSstWrite:
		return "SstWriteError"
	case KindFlushFailed:
		return "FlushFailed"
	case KindCompactionFailed:
		return "CompactionFailed"
	case KindTableNotFound:
		return "TableNotFound"
	case KindTableAlreadyExists:
		return "TableAlreadyExists"
	case KindTableClosed:
		return "TableClosed"
	case KindTableDropped:
		return "TableDropped"
	case KindSchedulerBusy:
		return "SchedulerBusy"
	case KindRecoverFailed:
		return "RecoverFailed"
	default:
		return "Unknown"
	}
}

// kindSentinels holds one markable base error per Kind, so Is(err, k) works
// after wrapping with WithKind.
var kindSentinels = map[Kind]error{
	KindSchemaMismatch:     errors.New("schema mismatch"),
	KindTooLarge:           errors.New("write batch too large"),
	KindWAL:                errors.New("wal error"),
	KindManifest:           errors.New("manifest error"),
	KindSstRead:            errors.New("sst read error"),
	KindSstWrite:           errors.New("sst write error"),
	KindFlushFailed:        errors.New("flush failed"),
	KindCompactionFailed:   errors.New("compaction failed"),
	KindTableNotFound:      errors.New("table not found"),
	KindTableAlreadyExists: errors.New("table already exists"),
	KindTableClosed:        errors.New("table closed"),
	KindTableDropped:       errors.New("table dropped"),
	KindSchedulerBusy:      errors.New("scheduler busy"),
	KindRecoverFailed:      errors.New("recover failed"),
}

// WithKind marks err with the sentinel for k so Is(err, k) reports true,
// while preserving err's own message and cause chain.
func WithKind(err error, k Kind) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, kindSentinels[k])
}

// NewKind builds a fresh error of kind k with a formatted message.
func NewKind(k Kind, format string, args ...interface{}) error {
	return WithKind(errors.Newf(format, args...), k)
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	sentinel, ok := kindSentinels[k]
	if !ok {
		return false
	}
	return errors.Is(err, sentinel)
}
