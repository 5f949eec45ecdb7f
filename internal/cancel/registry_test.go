package cancel

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopTokenIsNeverCancelled(t *testing.T) {
	token := Noop()
	assert.False(t, token.IsCancelled())

	// Advancing an unrelated registry must not reach the private cell.
	reg := NewRegistry()
	reg.Issue(7)
	reg.Next()
	assert.False(t, token.IsCancelled())
	assert.NoError(t, token.Err())
}

func TestZeroTokenIsNotCancelled(t *testing.T) {
	var token Token
	assert.False(t, token.IsCancelled())
}

func TestCancelledAfterVersionChange(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, IdleVersion, reg.Active())

	t1 := reg.Issue(1)
	assert.False(t, t1.IsCancelled(), "freshly issued token should be live")

	t2 := reg.Issue(2)
	assert.True(t, t1.IsCancelled())
	assert.False(t, t2.IsCancelled())
	assert.ErrorIs(t, t1.Err(), ErrCancelled)

	t3 := reg.Issue(3)
	assert.True(t, t2.IsCancelled())
	assert.False(t, t3.IsCancelled())

	assert.True(t, t1.IsCancelled())
}

func TestIssueNeverLowersActiveVersion(t *testing.T) {
	reg := NewRegistry()
	t1 := reg.Issue(1)
	t3 := reg.Issue(3)
	require.True(t, t1.IsCancelled())

	stale := reg.Issue(1)
	assert.Equal(t, uint64(3), reg.Active())
	assert.True(t, t1.IsCancelled(), "superseded token stays cancelled")
	assert.True(t, stale.IsCancelled(), "stale issue is born cancelled")
	assert.ErrorIs(t, stale.Err(), ErrCancelled)
	assert.False(t, t3.IsCancelled())

	// Re-issuing the active version keeps it live.
	again := reg.Issue(3)
	assert.False(t, again.IsCancelled())
	assert.False(t, t3.IsCancelled())
}

func TestNextIssuesIncreasingVersions(t *testing.T) {
	reg := NewRegistry()
	first := reg.Next()
	second := reg.Next()

	assert.Equal(t, uint64(1), first.Version())
	assert.Equal(t, uint64(2), second.Version())
	assert.True(t, first.IsCancelled())
	assert.False(t, second.IsCancelled())
}

func TestNextConcurrentLeavesExactlyOneLive(t *testing.T) {
	reg := NewRegistry()
	const workers = 64

	tokens := make([]Token, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i] = reg.Next()
		}(i)
	}
	wg.Wait()

	live := 0
	seen := make(map[uint64]bool)
	for _, tok := range tokens {
		require.False(t, seen[tok.Version()], "duplicate version %d", tok.Version())
		seen[tok.Version()] = true
		if !tok.IsCancelled() {
			live++
		}
	}
	assert.Equal(t, 1, live)
	assert.Equal(t, uint64(workers), reg.Active())
}

func TestIsCancelledUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("search aborted: %w", ErrCancelled)
	assert.True(t, IsCancelled(wrapped))
	assert.False(t, IsCancelled(fmt.Errorf("disk full")))
	assert.False(t, IsCancelled(nil))
}
