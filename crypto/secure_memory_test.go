package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecureWipeZeroesData(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	require.NoError(t, SecureWipe(data))
	for _, b := range data {
		require.Zero(t, b)
	}
}

func TestSecureWipeRejectsNil(t *testing.T) {
	require.Error(t, SecureWipe(nil))
}

func TestWipeKeyPairZeroesPrivateKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, WipeKeyPair(kp))
	require.True(t, isZeroKey(kp.Private))
}
