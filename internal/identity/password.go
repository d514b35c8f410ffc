package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrMalformedHash is returned when a stored hash cannot be decoded.
	ErrMalformedHash = errors.New("identity: malformed password hash")
	// ErrHashVersion is returned for hashes produced by an incompatible
	// argon2 version.
	ErrHashVersion = errors.New("identity: incompatible password hash version")
)

// HashParams tunes the argon2id hasher.
type HashParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultHashParams are sized for interactive logins on the panel.
var DefaultHashParams = HashParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// HashPassword derives an argon2id hash in the standard
// $argon2id$v=..$m=..,t=..,p=..$salt$hash encoding.
func HashPassword(password string, params HashParams) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.Memory, params.Iterations, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// VerifyPassword compares a candidate password against a stored hash. It
// returns ErrInvalidCredentials on mismatch and decoding errors for hashes
// that cannot be checked at all.
func VerifyPassword(storedHash, password string) error {
	parts := strings.Split(storedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return ErrMalformedHash
	}
	if version != argon2.Version {
		return ErrHashVersion
	}

	var params HashParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrMalformedHash
	}
	stored, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ErrMalformedHash
	}

	candidate := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, uint32(len(stored)))
	if subtle.ConstantTimeCompare(stored, candidate) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
