package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenCookieName = "token"

	userIdClaim = "sub"
	expClaim    = "exp"
)

const DefaultTokenExpiration = time.Hour * 24

var (
	// ErrMissingCredential indicates no token was presented at all.
	ErrMissingCredential = errors.New("missing credential")
	// ErrInvalidCredential indicates the token was present but failed
	// signature, format or expiry checks.
	ErrInvalidCredential = errors.New("invalid credential")
)

// TokenVerifier issues and verifies the signed session tokens bound to
// websocket connections and API requests. Verification is side-effect free.
type TokenVerifier struct {
	signingKey []byte
}

func NewTokenVerifier(signingKey []byte) *TokenVerifier {
	return &TokenVerifier{signingKey: signingKey}
}

// Issue creates a signed token embedding the user id.
func (v *TokenVerifier) Issue(userId int, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    jwt.NewNumericDate(time.Now().Add(exp)),
	})

	return token.SignedString(v.signingKey)
}

// Verify checks the token's signature and expiry and returns the embedded
// user id. The returned id is bound to a connection for its entire lifetime;
// it is never re-derived from later messages.
func (v *TokenVerifier) Verify(tokenString string) (int, error) {
	if tokenString == "" {
		return 0, ErrMissingCredential
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return v.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return 0, fmt.Errorf("%w: parse token: %v", ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected claims type", ErrInvalidCredential)
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return 0, fmt.Errorf("%w: missing user id claim", ErrInvalidCredential)
	}

	return int(userId), nil
}

// ExtractToken pulls the credential from connection-establishment metadata:
// the session cookie, falling back to a bearer Authorization header.
func ExtractToken(r *http.Request) (string, error) {
	if cookie, err := r.Cookie(TokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	authHeader := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok && token != "" {
		return token, nil
	}

	return "", ErrMissingCredential
}
