package smartslydr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStore(t *testing.T) {
	store := NewTokenStore("user", "pass")
	assert.Equal(t, "user", store.Username())

	_, err := store.Token()
	assert.ErrorIs(t, err, errNoAccessToken)

	store.SetTokens("A", "R")
	tok, err := store.Token()
	require.NoError(t, err)
	assert.Equal(t, "A", tok.AccessToken)
	assert.Equal(t, "R", tok.RefreshToken)

	tok.AccessToken = "mutated"
	assert.Equal(t, "A", store.AccessToken(), "Token returns a copy")

	store.SetAccessToken("A2")
	assert.Equal(t, "A2", store.AccessToken())
	assert.Equal(t, "R", store.RefreshToken())

	store.Clear()
	assert.Empty(t, store.AccessToken())
	assert.Empty(t, store.RefreshToken())
	assert.Equal(t, authRequest{Username: "user", Password: "pass"}, store.credentials())
}
