// ABOUTME: Tests for the TTL result cache
// ABOUTME: Covers expiry with a fake clock, disabled cache, and the size bound

package auth

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultCache_PutGet(t *testing.T) {
	c := newResultCache(30 * time.Second)

	p := &Principal{UserID: "u1", Scopes: []string{"read"}}
	c.put("fp1", p)

	got, ok := c.get("fp1")
	require.True(t, ok)
	assert.Equal(t, "u1", got.UserID)

	// The cache hands out copies, not the stored value.
	got.UserID = "mutated"
	again, ok := c.get("fp1")
	require.True(t, ok)
	assert.Equal(t, "u1", again.UserID)
}

func TestResultCache_TTLExpiry(t *testing.T) {
	c := newResultCache(30 * time.Second)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.put("fp1", &Principal{UserID: "u1"})

	now = now.Add(29 * time.Second)
	_, ok := c.get("fp1")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.get("fp1")
	assert.False(t, ok, "entries must never be trusted past their TTL")
	assert.Zero(t, c.len())
}

func TestResultCache_ZeroTTLDisabled(t *testing.T) {
	c := newResultCache(0)
	c.put("fp1", &Principal{UserID: "u1"})
	_, ok := c.get("fp1")
	assert.False(t, ok)
}

func TestResultCache_Bounded(t *testing.T) {
	c := newResultCache(time.Hour)
	c.maxEntries = 10

	for i := 0; i < 50; i++ {
		c.put(fmt.Sprintf("fp%d", i), &Principal{UserID: "u"})
	}
	assert.LessOrEqual(t, c.len(), 10)
}

func TestResultCache_ConcurrentAccess(t *testing.T) {
	c := newResultCache(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				fp := fmt.Sprintf("fp%d", j%10)
				c.put(fp, &Principal{UserID: fp})
				c.get(fp)
			}
		}(i)
	}
	wg.Wait()
}
