// Package auth verifies operator credentials against stored secrets. The
// stored form picks the comparison scheme, so every caller goes through one
// Verifier instead of branching on hash formats at each call site.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	secretHashSaltLength = 16
	secretHashKeyLength  = 32
	secretHashIterations = 120000
)

var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// scheme verifies candidates against one stored-secret format.
type scheme interface {
	Name() string
	Match(stored string) bool
	Verify(stored, candidate string) error
}

// Verifier picks the scheme from the stored form: pbkdf2-encoded hashes,
// then legacy hex sha256 digests, then plain comparison as the fallback. A
// 64 character all-hex secret is indistinguishable from a digest and is
// treated as one; store such secrets hashed.
type Verifier struct {
	schemes []scheme
}

func NewVerifier() *Verifier {
	return &Verifier{schemes: []scheme{pbkdf2Scheme{}, hexDigestScheme{}, plainScheme{}}}
}

// Verify compares candidate against stored. Mismatches return
// ErrInvalidCredentials; a malformed stored value reports what is wrong
// with it instead.
func (v *Verifier) Verify(stored, candidate string) error {
	stored = strings.TrimSpace(stored)
	if stored == "" {
		return errors.New("auth: stored secret is empty")
	}
	for _, s := range v.schemes {
		if s.Match(stored) {
			return s.Verify(stored, candidate)
		}
	}
	return ErrInvalidCredentials
}

// HashSecret encodes a secret in the pbkdf2 stored form Verify understands.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("auth: secret is required")
	}
	salt := make([]byte, secretHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(secret), salt, secretHashIterations, secretHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", secretHashIterations, encodedSalt, encodedKey), nil
}

type pbkdf2Scheme struct{}

func (pbkdf2Scheme) Name() string { return "pbkdf2" }

func (pbkdf2Scheme) Match(stored string) bool {
	return strings.HasPrefix(stored, "pbkdf2$")
}

func (pbkdf2Scheme) Verify(stored, candidate string) error {
	parts := strings.Split(stored, "$")
	if len(parts) != 5 {
		return errors.New("verify secret: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return errors.New("verify secret: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return errors.New("verify secret: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify secret: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify secret: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

type hexDigestScheme struct{}

func (hexDigestScheme) Name() string { return "sha256-hex" }

func (hexDigestScheme) Match(stored string) bool {
	if len(stored) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(stored)
	return err == nil
}

func (hexDigestScheme) Verify(stored, candidate string) error {
	storedDigest, err := hex.DecodeString(stored)
	if err != nil {
		return fmt.Errorf("verify secret: decode digest: %w", err)
	}
	digest := sha256.Sum256([]byte(candidate))
	if subtle.ConstantTimeCompare(digest[:], storedDigest) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

type plainScheme struct{}

func (plainScheme) Name() string { return "plain" }

func (plainScheme) Match(string) bool { return true }

func (plainScheme) Verify(stored, candidate string) error {
	if subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
