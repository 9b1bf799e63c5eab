package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEvictsPriorSession(t *testing.T) {
	st := NewStore(time.Hour)

	first := st.Create("ipad-01", "token-a")
	second := st.Create("ipad-01", "token-b")

	assert.NotEqual(t, first.ID, second.ID)

	_, ok := st.Validate(first.ID, false)
	assert.False(t, ok, "evicted session must no longer validate")

	got, ok := st.Validate(second.ID, false)
	require.True(t, ok)
	assert.Equal(t, "ipad-01", got.DeviceID)
	assert.Equal(t, 1, st.ActiveCount())
}

func TestValidateExpired(t *testing.T) {
	st := NewStore(50 * time.Millisecond)
	sess := st.Create("ipad-01", "token-a")

	_, ok := st.Validate(sess.ID, false)
	require.True(t, ok)

	time.Sleep(80 * time.Millisecond)

	_, ok = st.Validate(sess.ID, false)
	assert.False(t, ok, "expired session must be indistinguishable from absent")

	// Deleted on sight: a sweep afterwards finds nothing left.
	assert.Equal(t, 0, st.SweepExpired())
	assert.Equal(t, 0, st.ActiveCount())
}

func TestRefreshDoesNotExtendTTL(t *testing.T) {
	st := NewStore(100 * time.Millisecond)
	sess := st.Create("ipad-01", "token-a")

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		st.Validate(sess.ID, true)
		time.Sleep(10 * time.Millisecond)
	}

	_, ok := st.Validate(sess.ID, true)
	assert.False(t, ok, "refreshing validations must not extend the absolute TTL")
}

func TestRefreshUpdatesLastActivity(t *testing.T) {
	st := NewStore(time.Hour)
	sess := st.Create("ipad-01", "token-a")

	time.Sleep(10 * time.Millisecond)
	refreshed, ok := st.Validate(sess.ID, true)
	require.True(t, ok)

	assert.True(t, refreshed.LastActivityAt.After(sess.LastActivityAt))
	assert.Equal(t, sess.ExpiresAt, refreshed.ExpiresAt)
}

func TestValidateByToken(t *testing.T) {
	st := NewStore(time.Hour)
	sess := st.Create("ipad-01", "token-a")

	got, ok := st.ValidateByToken("token-a")
	require.True(t, ok)
	assert.Equal(t, sess.ID, got.ID)

	_, ok = st.ValidateByToken("token-unknown")
	assert.False(t, ok)
}

func TestGetByDevice(t *testing.T) {
	st := NewStore(time.Hour)
	sess := st.Create("ipad-01", "token-a")

	got, ok := st.GetByDevice("ipad-01")
	require.True(t, ok)
	assert.Equal(t, sess.ID, got.ID)

	_, ok = st.GetByDevice("ipad-02")
	assert.False(t, ok)
}

func TestRevoke(t *testing.T) {
	st := NewStore(time.Hour)
	sess := st.Create("ipad-01", "token-a")

	st.Revoke(sess.ID)

	_, ok := st.Validate(sess.ID, false)
	assert.False(t, ok)
	_, ok = st.GetByDevice("ipad-01")
	assert.False(t, ok)

	// Revoking again is a no-op.
	st.Revoke(sess.ID)
}

func TestRevokeByDeviceLeavesOthersUntouched(t *testing.T) {
	st := NewStore(time.Hour)
	st.Create("ipad-01", "token-a")
	other := st.Create("ipad-02", "token-b")

	st.RevokeByDevice("ipad-01")

	_, ok := st.GetByDevice("ipad-01")
	assert.False(t, ok)

	got, ok := st.Validate(other.ID, false)
	require.True(t, ok)
	assert.Equal(t, "ipad-02", got.DeviceID)
	assert.Equal(t, 1, st.ActiveCount())
}

func TestSweepExpired(t *testing.T) {
	st := NewStore(30 * time.Millisecond)
	st.Create("ipad-01", "token-a")
	st.Create("ipad-02", "token-b")

	time.Sleep(60 * time.Millisecond)
	st.Create("ipad-03", "token-c")

	// ipad-03 was just created, the other two are past deadline.
	removed := st.SweepExpired()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, st.ActiveCount())
}

func TestListActiveSnapshot(t *testing.T) {
	st := NewStore(time.Hour)
	st.Create("ipad-01", "token-a")
	st.Create("ipad-02", "token-b")

	list := st.ListActive()
	assert.Len(t, list, 2)

	// Mutating the snapshot must not touch the store.
	list[0].DeviceID = "mutated"
	for _, sess := range st.ListActive() {
		assert.NotEqual(t, "mutated", sess.DeviceID)
	}
}

func TestConcurrentCreates(t *testing.T) {
	st := NewStore(time.Hour)

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			st.Create(fmt.Sprintf("device-%03d", i), fmt.Sprintf("token-%03d", i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, st.ActiveCount())
}
