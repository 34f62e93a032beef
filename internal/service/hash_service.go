package service

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	HashAlgorithmSHA256   = "sha256"
	HashAlgorithmArgon2id = "argon2id"

	sha256Prefix  = "sha256$"
	argon2Prefix  = "$argon2id$"
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// Argon2Params tunes argon2id digests. Memory is in KiB.
type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultArgon2Params matches the RFC 9106 second recommended option.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 1, Memory: 64 * 1024, Threads: 4}
}

// SecretHashService implements ports.SecretHasher.
// New digests use the configured algorithm; Verify accepts any supported format,
// so switching algorithms does not lock out existing wallets.
type SecretHashService struct {
	algorithm string
	argon     Argon2Params
}

// NewSecretHashService creates a hasher producing digests with algorithm.
func NewSecretHashService(algorithm string, argon Argon2Params) (*SecretHashService, error) {
	switch algorithm {
	case HashAlgorithmSHA256, HashAlgorithmArgon2id:
	default:
		return nil, fmt.Errorf("unsupported secret hash algorithm %q", algorithm)
	}
	if argon.Time == 0 || argon.Memory == 0 || argon.Threads == 0 {
		argon = DefaultArgon2Params()
	}
	return &SecretHashService{algorithm: algorithm, argon: argon}, nil
}

// Digest hashes a bearer secret.
//
// sha256 format: sha256$<hex>. Wallet secrets are 256 random bits, so a fast hash
// does not weaken them.
// argon2id format: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
func (s *SecretHashService) Digest(secret string) (string, error) {
	if s.algorithm == HashAlgorithmSHA256 {
		sum := sha256.Sum256([]byte(secret))
		return sha256Prefix + hex.EncodeToString(sum[:]), nil
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(secret), salt, s.argon.Time, s.argon.Memory, s.argon.Threads, argon2KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		s.argon.Memory, s.argon.Time, s.argon.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify checks a secret against a stored digest in constant time.
func (s *SecretHashService) Verify(secret string, digest string) (bool, error) {
	switch {
	case strings.HasPrefix(digest, sha256Prefix):
		want, err := hex.DecodeString(strings.TrimPrefix(digest, sha256Prefix))
		if err != nil {
			return false, fmt.Errorf("decoding sha256 digest: %w", err)
		}
		got := sha256.Sum256([]byte(secret))
		return subtle.ConstantTimeCompare(want, got[:]) == 1, nil

	case strings.HasPrefix(digest, argon2Prefix):
		salt, hash, params, err := decodeArgon2Hash(digest)
		if err != nil {
			return false, err
		}
		otherHash := argon2.IDKey([]byte(secret), salt, params.time, params.memory, params.threads, params.keyLen)
		return subtle.ConstantTimeCompare(hash, otherHash) == 1, nil
	}
	return false, fmt.Errorf("unrecognized digest format")
}

type argon2Params struct {
	memory  uint32
	time    uint32
	threads uint8
	keyLen  uint32
}

// decodeArgon2Hash parses the encoded hash string.
func decodeArgon2Hash(encodedHash string) (salt, hash []byte, params argon2Params, err error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return nil, nil, params, fmt.Errorf("invalid hash format: expected 6 parts, got %d", len(parts))
	}

	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, params, fmt.Errorf("parsing version: %w", err)
	}
	if version != argon2.Version {
		return nil, nil, params, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return nil, nil, params, fmt.Errorf("parsing params: %w", err)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding salt: %w", err)
	}

	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding hash: %w", err)
	}

	params.keyLen = uint32(len(hash))

	return salt, hash, params, nil
}
