// ABOUTME: End-to-end authentication scenario against the mock store
// ABOUTME: Walks one key through allow, scope deny, missing and malformed credentials

package auth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebRobot-Ltd/ultra-rag/internal/store"
)

// TestScenario_ReadScopedKey exercises the canonical lifecycle of one
// active, read-scoped API key across the full middleware path.
func TestScenario_ReadScopedKey(t *testing.T) {
	m := store.NewMockStore()
	m.PutAPIKey(&store.APIKeyRecord{
		KeyID:      "M7YjfDoD",
		SecretHash: HashSecret("9N9n10uxAe60M6ieGwOuPPRIDzlZooJu"),
		Scopes:     []string{"read"},
		Status:     store.KeyStatusActive,
		OwnerID:    "user-1",
	})
	v := newTestValidator(t, m, ValidatorOptions{})

	const key = "M7YjfDoD:9N9n10uxAe60M6ieGwOuPPRIDzlZooJu"

	t.Run("read scope allows", func(t *testing.T) {
		rec, p := doRequest(t, v, []string{"read"}, func(r *http.Request) {
			r.Header.Set("X-API-Key", key)
		})
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, p)
		assert.Equal(t, "user-1", p.UserID)
	})

	t.Run("admin scope denies", func(t *testing.T) {
		rec, _ := doRequest(t, v, []string{"admin"}, func(r *http.Request) {
			r.Header.Set("X-API-Key", key)
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("no header denies", func(t *testing.T) {
		rec, _ := doRequest(t, v, []string{"read"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, decodeError(t, rec)["message"], "Authentication required")
	})

	t.Run("malformed key denies without store call", func(t *testing.T) {
		before := m.Lookups()
		rec, _ := doRequest(t, v, []string{"read"}, func(r *http.Request) {
			r.Header.Set("X-API-Key", "bogus")
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "malformed credential", decodeError(t, rec)["message"])
		assert.Equal(t, before, m.Lookups())
	})
}
