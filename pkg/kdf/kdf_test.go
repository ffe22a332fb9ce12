package kdf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-chat/aegis/pkg/kdf"
)

func TestDeriveMasterKeyDeterministic(t *testing.T) {
	ss := []byte("a shared secret, 32 bytes long!!")
	salt := []byte(kdf.SaltHandshake)

	a, err := kdf.DeriveMasterKey(ss, salt)
	require.NoError(t, err)
	b, err := kdf.DeriveMasterKey(ss, salt)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDeriveMessageKeyDistinctPerCounter(t *testing.T) {
	chain, err := kdf.DeriveChainKey([]byte("root-key-32-bytes-long-exactly!!"), kdf.InfoSendChain)
	require.NoError(t, err)

	k0, err := kdf.DeriveMessageKey(chain[:], 0)
	require.NoError(t, err)
	k1, err := kdf.DeriveMessageKey(chain[:], 1)
	require.NoError(t, err)

	assert.NotEqual(t, k0, k1)
}

func TestSendRecvChainSwap(t *testing.T) {
	root := []byte("root-key-32-bytes-long-exactly!!")
	send, err := kdf.DeriveChainKey(root, kdf.InfoSendChain)
	require.NoError(t, err)
	recv, err := kdf.DeriveChainKey(root, kdf.InfoRecvChain)
	require.NoError(t, err)
	assert.NotEqual(t, send, recv)
}

func TestRatchetKeyHMACRotationDiffers(t *testing.T) {
	key := []byte("chain-key-32-bytes-long-exactly!")
	k1 := kdf.RatchetKeyHMAC(key, kdf.RotationContext(0))
	k2 := kdf.RatchetKeyHMAC(key, kdf.RotationContext(1))
	assert.NotEqual(t, k1, k2)
}

func TestBlake3KeyedHashRequires32ByteKey(t *testing.T) {
	_, err := kdf.Blake3KeyedHash([]byte("short"), []byte("data"))
	assert.Error(t, err)

	key := make([]byte, 32)
	h1, err := kdf.Blake3KeyedHash(key, []byte("challenge"))
	require.NoError(t, err)
	h2, err := kdf.ProveKeyKnowledge(key, []byte("challenge"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestDeriveKeyBundleDistinctPerIndex(t *testing.T) {
	root := []byte("root-key-32-bytes-long-exactly!!")
	b0, err := kdf.DeriveKeyBundle(root, 0)
	require.NoError(t, err)
	b1, err := kdf.DeriveKeyBundle(root, 1)
	require.NoError(t, err)
	assert.NotEqual(t, b0, b1)
}
