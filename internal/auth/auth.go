// Package auth implements password verification and bearer-token issuance
// for the control API. Tokens are fernet-signed, carry the username, and
// expire server-side; no session state is kept.
package auth

import (
	"fmt"
	"log"
	"time"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/bcrypt"
)

const BcryptCost = 12

// HashPassword produces a bcrypt hash suitable for the password-hash
// setting.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword verifies a password against its bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// TokenIssuer signs and verifies bearer tokens.
type TokenIssuer struct {
	key *fernet.Key
	ttl time.Duration
}

// NewTokenIssuer builds an issuer from an encoded fernet key. An empty
// secret generates an ephemeral key: tokens then survive only until the
// process restarts, which is fine for single-user setups.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %v", ttl)
	}
	if secret == "" {
		var k fernet.Key
		if err := k.Generate(); err != nil {
			return nil, fmt.Errorf("generate token key: %w", err)
		}
		log.Printf("[auth] no token secret configured, generated ephemeral key (tokens reset on restart)")
		return &TokenIssuer{key: &k, ttl: ttl}, nil
	}
	key, err := fernet.DecodeKey(secret)
	if err != nil {
		return nil, fmt.Errorf("decode token secret: %w", err)
	}
	return &TokenIssuer{key: key, ttl: ttl}, nil
}

// Issue signs a token for the user.
func (t *TokenIssuer) Issue(username string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(username), t.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(tok), nil
}

// Verify checks signature and age, returning the username.
func (t *TokenIssuer) Verify(token string) (string, bool) {
	msg := fernet.VerifyAndDecrypt([]byte(token), t.ttl, []*fernet.Key{t.key})
	if msg == nil {
		return "", false
	}
	return string(msg), true
}

// TTL reports the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }
