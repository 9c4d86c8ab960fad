package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestIdentityKeys(t *testing.T) {
	tests := []struct {
		name         string
		email, phone *string
		want         []string
	}{
		{"email lowercased", strPtr(" A@X.com "), nil, []string{"identify:email:a@x.com"}},
		{"phone digits only", nil, strPtr("+1 (555) 010-99"), []string{"identify:phone:155501099"}},
		{"phone without digits kept", nil, strPtr(" ext "), []string{"identify:phone:ext"}},
		{"both", strPtr("a@x.com"), strPtr("111"), []string{"identify:email:a@x.com", "identify:phone:111"}},
		{"blank values", strPtr("  "), strPtr(""), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IdentityKeys(tt.email, tt.phone))
		})
	}
}

func TestNormalizeKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, normalizeKeys([]string{"c", "a", "", "b", "a"}))
	assert.Empty(t, normalizeKeys(nil))
}

func TestLocalLockerExcludesSameKey(t *testing.T) {
	l := NewLocalLocker()

	release, err := l.Acquire(context.Background(), "identify:email:a@x.com")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "identify:phone:111", "identify:email:a@x.com")
	assert.ErrorIs(t, err, ErrNotAcquired)

	release()
	release() // idempotent

	again, err := l.Acquire(context.Background(), "identify:phone:111", "identify:email:a@x.com")
	require.NoError(t, err)
	again()
}

func TestLocalLockerFailedAcquireHoldsNothing(t *testing.T) {
	l := NewLocalLocker()
	keyA, keyB := "identify:email:a@x.com", "identify:email:b@x.com"
	require.NotEqual(t, l.shardsFor([]string{keyA}), l.shardsFor([]string{keyB}))

	releaseB, err := l.Acquire(context.Background(), keyB)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, keyA, keyB)
	require.ErrorIs(t, err, ErrNotAcquired)
	releaseB()

	// keyA must have been given back by the failed attempt.
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	releaseA, err := l.Acquire(ctx2, keyA)
	require.NoError(t, err)
	releaseA()
}

func TestLocalLockerSerialisesOverlappingKeySets(t *testing.T) {
	l := NewLocalLocker()
	sets := [][]string{
		{"identify:email:a@x.com", "identify:phone:111"},
		{"identify:phone:111", "identify:email:b@x.com"},
		{"identify:email:b@x.com", "identify:email:a@x.com"},
	}

	var inside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(keys []string) {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), keys...)
			if !assert.NoError(t, err) {
				return
			}
			defer release()
			// All three sets pairwise overlap, so at most one holder at a time.
			assert.Equal(t, int32(1), inside.Add(1))
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}(sets[i%len(sets)])
	}
	wg.Wait()
}
