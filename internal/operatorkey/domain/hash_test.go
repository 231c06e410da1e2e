package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashSecretRoundTrip(t *testing.T) {
	encoded, err := HashSecret("dvk_ABC_0123456789abcdef0123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=65536,t=1,p=4$"))
	assert.True(t, VerifySecret("dvk_ABC_0123456789abcdef0123", encoded))
	assert.False(t, VerifySecret("dvk_ABC_0123456789abcdef0124", encoded))

	again, err := HashSecret("dvk_ABC_0123456789abcdef0123")
	require.NoError(t, err)
	assert.NotEqual(t, encoded, again)
}

func TestVerifySecretRejectsMalformedHashes(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=1,p=999$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=1,p=4$!!$aGFzaA",
	} {
		assert.False(t, VerifySecret("secret", encoded), encoded)
	}
}
