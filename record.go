package rop

// Record is one remote record's field map, as sent to and returned by the server.
type Record map[string]any

// Clone returns a shallow copy of the record. Field values are shared; the map itself
// is new, so callers can mutate the copy without affecting the original snapshot.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// ID extracts the record's "id" field as int64 if present. Remote servers return IDs as
// JSON numbers which unmarshal to float64; both are accepted.
func (r Record) ID() (int64, bool) {
	v, ok := r["id"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
