package base

// Timestamp is milliseconds since the Unix epoch, the engine's native time
// unit for segment alignment and TTL.
type Timestamp int64

// TimeRange is half-open: [Start, End).
type TimeRange struct {
	Start Timestamp
	End   Timestamp
}

// Contains reports whether t falls within [r.Start, r.End).
func (r TimeRange) Contains(t Timestamp) bool {
	return t >= r.Start && t < r.End
}

// Intersects reports whether r and o overlap.
func (r TimeRange) Intersects(o TimeRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// Empty reports whether the range contains no instant.
func (r TimeRange) Empty() bool {
	return r.Start >= r.End
}

// Union returns the smallest range covering both r and o. Both must be
// non-empty.
func (r TimeRange) Union(o TimeRange) TimeRange {
	u := r
	if o.Start < u.Start {
		u.Start = o.Start
	}
	if o.End > u.End {
		u.End = o.End
	}
	return u
}

// TruncateBy aligns t down to the nearest multiple of segment, matching
// spec.md §8 "Segment alignment: a row at timestamp t lands in memtable
// bucket ⌊t/segment⌋ * segment".
func TruncateBy(t Timestamp, segment int64) Timestamp {
	if segment <= 0 {
		return t
	}
	v := int64(t)
	bucket := (v - ((v%segment + segment) % segment))
	return Timestamp(bucket)
}

// BucketRange returns the [start, start+segment) bucket containing t.
func BucketRange(t Timestamp, segment int64) TimeRange {
	start := TruncateBy(t, segment)
	return TimeRange{Start: start, End: start + Timestamp(segment)}
}
