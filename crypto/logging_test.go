package crypto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerHelperChaining(t *testing.T) {
	l := NewLogger("TestLoggerHelperChaining").
		WithField("connection_id", "abc123").
		WithError(errors.New("boom"), "fatal", "handshake")

	require.Equal(t, "crypto", l.pkg)
	require.Equal(t, "abc123", l.fields["connection_id"])
	require.Equal(t, "boom", l.fields["error"])
	require.Equal(t, "fatal", l.fields["error_type"])
}

func TestSecureFieldHashTruncatesPreview(t *testing.T) {
	fields := SecureFieldHash([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, "key")
	require.Equal(t, 10, fields["key_size"])
	require.Contains(t, fields["key_preview"], "...")
}

func TestSecureFieldHashHandlesEmpty(t *testing.T) {
	fields := SecureFieldHash(nil, "key")
	require.Equal(t, "nil", fields["key_preview"])
	require.Equal(t, 0, fields["key_size"])
}
