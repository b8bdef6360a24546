// Package lock serializes identify requests that share an email or phone
// value, so two callers cannot both observe "no cluster" and each create a
// competing primary.
package lock

import (
	"context"
	"errors"
	"slices"
)

// ErrNotAcquired is returned when a lock could not be taken before the
// context ended.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker acquires every key in keys or none of them. The returned release
// function is safe to call once.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (release func(), err error)
}

// normalizeKeys drops blanks and duplicates and sorts, giving every caller
// the same acquisition order.
func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
