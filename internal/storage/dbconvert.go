package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"admission/internal/models"
)

// marshalMetadata converts a metadata map to JSON bytes.
func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if metadata == nil {
		return json.Marshal(map[string]string{})
	}
	return json.Marshal(metadata)
}

// unmarshalMetadata converts JSON bytes to a metadata map.
func unmarshalMetadata(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return make(map[string]string), nil
	}
	var metadata map[string]string
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return metadata, nil
}

// timeToUnixNano stores a timestamp as an integer so ordering is exact.
// The zero time maps to 0.
func timeToUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// unixNanoToTime reverses timeToUnixNano.
func unixNanoToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// eventWhere builds the WHERE clause for an event filter. placeholder
// renders the n-th bind parameter in the driver's syntax.
func eventWhere(filter models.EventFilter, placeholder func(n int) string) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		clauses = append(clauses, "kind = "+placeholder(len(args)))
	}
	if filter.Subject != "" {
		args = append(args, filter.Subject)
		clauses = append(clauses, "subject = "+placeholder(len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
