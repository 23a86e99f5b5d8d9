package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithFieldsChaining(t *testing.T) {
	l := New("seclink").WithField("connection_id", "abc").WithFields(map[string]interface{}{"remote_addr": "1.2.3.4:9000"})
	require.Equal(t, "abc", l.fields["connection_id"])
	require.Equal(t, "1.2.3.4:9000", l.fields["remote_addr"])
	require.Equal(t, "seclink", l.fields["component"])
}

func TestWithErrorAddsErrorField(t *testing.T) {
	l := New("handshake").WithError(errors.New("boom"))
	require.Equal(t, "boom", l.fields["error"])
}

func TestKeyPreviewTruncates(t *testing.T) {
	require.Equal(t, "nil", KeyPreview(nil))
	require.Contains(t, KeyPreview([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9}), "...")
}
