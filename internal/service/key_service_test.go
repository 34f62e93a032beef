package service

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyService_Issue(t *testing.T) {
	hasher, err := NewSecretHashService(HashAlgorithmSHA256, testArgon2Params)
	require.NoError(t, err)
	svc := NewKeyService(hasher)

	creds, err := svc.Issue()
	require.NoError(t, err)

	assert.Len(t, creds.Address, 32)
	assert.Len(t, creds.Secret, 64)
	_, err = hex.DecodeString(creds.Address)
	assert.NoError(t, err)

	ok, err := hasher.Verify(creds.Secret, creds.SecretDigest)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotContains(t, creds.SecretDigest, creds.Secret)
}

func TestKeyService_Issue_Unique(t *testing.T) {
	hasher, _ := NewSecretHashService(HashAlgorithmSHA256, testArgon2Params)
	svc := NewKeyService(hasher)

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		creds, err := svc.Issue()
		require.NoError(t, err)
		_, dup := seen[creds.Address]
		require.False(t, dup)
		seen[creds.Address] = struct{}{}
	}
}
