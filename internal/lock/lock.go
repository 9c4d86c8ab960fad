// Package lock serialises identify calls that share an identifying value.
package lock

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"
)

// ErrNotAcquired is returned when a lock could not be taken before the context ended.
var ErrNotAcquired = errors.New("lock: not acquired")

// Release gives a set of acquired locks back. It is safe to call more than once.
type Release func()

// Locker acquires every key or none. Keys are deduplicated and taken in sorted order,
// so two callers with overlapping key sets cannot deadlock.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (Release, error)
}

// IdentityKeys derives lock keys from an identify request. Emails are lowercased and
// phones reduced to their digits, so requests differing only in formatting still collide.
func IdentityKeys(email, phone *string) []string {
	var keys []string
	if email != nil {
		if e := strings.ToLower(strings.TrimSpace(*email)); e != "" {
			keys = append(keys, "identify:email:"+e)
		}
	}
	if phone != nil {
		digits := strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) {
				return r
			}
			return -1
		}, *phone)
		if digits == "" {
			digits = strings.TrimSpace(*phone)
		}
		if digits != "" {
			keys = append(keys, "identify:phone:"+digits)
		}
	}
	return keys
}

func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
