package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
)

const (
	addressBytes = 16
	secretBytes  = 32
)

// KeyService implements ports.KeyIssuer.
// The address is 16 random bytes and the bearer secret 32 random bytes, both hex-encoded.
type KeyService struct {
	hasher ports.SecretHasher
}

// NewKeyService creates a new KeyService.
func NewKeyService(hasher ports.SecretHasher) *KeyService {
	return &KeyService{hasher: hasher}
}

// Issue generates a fresh address, secret and secret digest.
func (s *KeyService) Issue() (*domain.WalletCredentials, error) {
	address, err := randomHex(addressBytes)
	if err != nil {
		return nil, fmt.Errorf("generating address: %w", err)
	}
	secret, err := randomHex(secretBytes)
	if err != nil {
		return nil, fmt.Errorf("generating secret: %w", err)
	}
	digest, err := s.hasher.Digest(secret)
	if err != nil {
		return nil, fmt.Errorf("digesting secret: %w", err)
	}
	return &domain.WalletCredentials{
		Address:      address,
		Secret:       secret,
		SecretDigest: digest,
	}, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
