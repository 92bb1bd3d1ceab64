// ABOUTME: JWT verification for bearer-token authentication
// ABOUTME: HS256 with a shared secret; claims decode into a Principal

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum accepted JWT secret length in bytes.
const MinSecretLength = 32

// ErrSecretTooShort is returned when the configured JWT secret is too weak.
var ErrSecretTooShort = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)

// JWTVerifier verifies HS256-signed bearer tokens.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token signature and expiry and decodes the claims
// into a Principal. Returns ErrExpired for expired tokens and
// ErrSignatureInvalid for everything else that fails verification.
func (v *JWTVerifier) Verify(tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	if !token.Valid {
		return nil, ErrSignatureInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrSignatureInvalid
	}

	return principalFromClaims(claims)
}

// principalFromClaims builds a Principal from token claims. The subject is
// taken from "sub" or "id"; role defaults to "authenticated"; scopes accept
// either a list or a comma-separated string; the organization comes from
// "organization_id" or "orgId".
func principalFromClaims(claims jwt.MapClaims) (*Principal, error) {
	userID := stringClaim(claims, "sub")
	if userID == "" {
		userID = stringClaim(claims, "id")
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: missing subject claim", ErrSignatureInvalid)
	}

	role := stringClaim(claims, "role")
	if role == "" {
		role = "authenticated"
	}

	scopes := scopesClaim(claims["scopes"])
	if scopes == nil {
		scopes = scopesClaim(claims["scope"])
	}

	orgID := stringClaim(claims, "organization_id")
	if orgID == "" {
		orgID = stringClaim(claims, "orgId")
	}

	return &Principal{
		UserID:         userID,
		Username:       stringClaim(claims, "username"),
		Email:          stringClaim(claims, "email"),
		Role:           role,
		Scopes:         scopes,
		OrganizationID: orgID,
		AuthMethod:     "bearer",
	}, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// scopesClaim normalizes a scopes claim: either a list of strings or a
// comma-separated string.
func scopesClaim(raw any) []string {
	switch v := raw.(type) {
	case []any:
		scopes := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				scopes = append(scopes, strings.TrimSpace(s))
			}
		}
		if len(scopes) == 0 {
			return nil
		}
		return scopes
	case string:
		var scopes []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				scopes = append(scopes, s)
			}
		}
		return scopes
	default:
		return nil
	}
}

// Generate creates a new JWT token with the given claims and expiration.
// Used by the keygen command and by tests.
func (v *JWTVerifier) Generate(userID, role string, scopes []string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	if len(scopes) > 0 {
		claims["scopes"] = scopes
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
