package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrCredentialExpired is returned before dialing when the session token is
// already past its expiry.
var ErrCredentialExpired = errors.New("transport: credential expired")

// Identity extracts the local user id from a session credential and rejects
// tokens that have already expired. Signature verification is the server's
// job; the client only avoids dialing with a token that cannot work.
func Identity(credential string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return "", fmt.Errorf("parse credential: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("credential has no subject")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return "", fmt.Errorf("credential expiry: %w", err)
	}
	if exp != nil && exp.Before(time.Now()) {
		return "", ErrCredentialExpired
	}

	return sub, nil
}
