package presencewatcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePresenceKey(t *testing.T) {
	tenant, user, ok := parsePresenceKey("presence:district-1:user:u42")
	require.True(t, ok)
	require.Equal(t, "district-1", tenant)
	require.Equal(t, "u42", user)

	for _, key := range []string{
		"presence:district-1:online",
		"document:doc1:lock",
		"server:srv-1:heartbeat",
		"presence:district-1:user:u42:extra",
		"",
	} {
		_, _, ok := parsePresenceKey(key)
		require.False(t, ok, "key %q", key)
	}
}
