// ABOUTME: Tests for JWT verification and claim decoding
// ABOUTME: Covers round trips, expiry, tampering, and scope claim normalization

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSecret is a 32-byte secret that meets MinSecretLength.
var testSecret = []byte("token-verifier-test-secret-32by!")

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)
	return v
}

func TestNewJWTVerifier_ShortSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("too-short"))
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Generate("user-42", "developer", []string{"read", "write"}, time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", p.UserID)
	assert.Equal(t, "developer", p.Role)
	assert.Equal(t, []string{"read", "write"}, p.Scopes)
	assert.Equal(t, "bearer", p.AuthMethod)
}

func TestJWTVerifier_Expired(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Generate("user-42", "", nil, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	v := newTestVerifier(t)
	other, err := NewJWTVerifier([]byte("another-32-byte-secret-for-test!"))
	require.NoError(t, err)

	token, err := other.Generate("user-42", "", nil, time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestJWTVerifier_Garbage(t *testing.T) {
	v := newTestVerifier(t)

	_, err := v.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestJWTVerifier_RejectsNonHMAC(t *testing.T) {
	v := newTestVerifier(t)

	// alg=none must never validate.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-42"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(signed)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestPrincipalFromClaims(t *testing.T) {
	tests := []struct {
		name    string
		claims  jwt.MapClaims
		want    *Principal
		wantErr bool
	}{
		{
			name:   "sub claim",
			claims: jwt.MapClaims{"sub": "u1"},
			want:   &Principal{UserID: "u1", Role: "authenticated", AuthMethod: "bearer"},
		},
		{
			name:   "id claim fallback",
			claims: jwt.MapClaims{"id": "u2", "role": "admin"},
			want:   &Principal{UserID: "u2", Role: "admin", AuthMethod: "bearer"},
		},
		{
			name:   "scopes as list",
			claims: jwt.MapClaims{"sub": "u1", "scopes": []any{"read", "write"}},
			want: &Principal{
				UserID: "u1", Role: "authenticated",
				Scopes: []string{"read", "write"}, AuthMethod: "bearer",
			},
		},
		{
			name:   "scope as comma string",
			claims: jwt.MapClaims{"sub": "u1", "scope": "read, admin"},
			want: &Principal{
				UserID: "u1", Role: "authenticated",
				Scopes: []string{"read", "admin"}, AuthMethod: "bearer",
			},
		},
		{
			name:   "orgId fallback",
			claims: jwt.MapClaims{"sub": "u1", "orgId": "org-9"},
			want: &Principal{
				UserID: "u1", Role: "authenticated",
				OrganizationID: "org-9", AuthMethod: "bearer",
			},
		},
		{
			name:    "missing subject",
			claims:  jwt.MapClaims{"role": "admin"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := principalFromClaims(tt.claims)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSignatureInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
