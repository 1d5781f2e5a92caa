package identityStore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/cipherroom/pkg/envelope"
	"github.com/i5heu/cipherroom/pkg/primitives"
)

var testPair = sync.OnceValues(func() (*primitives.PublicKey, *primitives.ExtractablePrivateKey) {
	pub, priv, err := primitives.GenerateAsymmetricKeyPair()
	if err != nil {
		panic(err)
	}
	return pub, priv
})

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	return s
}

func TestLoadWithoutPersist(t *testing.T) { // A
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	priv, err := s.LoadPrivateKey()
	require.NoError(t, err)
	assert.Nil(t, priv)
}

func TestPersistAndLoadAcrossReopen(t *testing.T) { // A
	pub, priv := testPair()
	dir := t.TempDir()

	s := openTestStore(t, dir)
	require.NoError(t, s.PersistPrivateKey(priv.Harden()))
	require.NoError(t, s.Close())

	s = openTestStore(t, dir)
	t.Cleanup(func() { _ = s.Close() })

	loaded, err := s.LoadPrivateKey()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.Public().Equal(pub))

	roomKey, err := primitives.GenerateSymmetricKey()
	require.NoError(t, err)
	wrapped, err := envelope.WrapRoomKeyWithPublicKey(roomKey, pub)
	require.NoError(t, err)
	got, err := envelope.UnwrapRoomKeyWithPrivateKey(wrapped, loaded)
	require.NoError(t, err)
	assert.True(t, got.Equal(roomKey))
}

func TestPersistReplacesIdentity(t *testing.T) { // A
	_, first := testPair()
	otherPub, other, err := primitives.GenerateAsymmetricKeyPair()
	require.NoError(t, err)

	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.PersistPrivateKey(first.Harden()))
	require.NoError(t, s.PersistPrivateKey(other.Harden()))

	loaded, err := s.LoadPrivateKey()
	require.NoError(t, err)
	assert.True(t, loaded.Public().Equal(otherPub))
}

func TestForget(t *testing.T) { // A
	_, priv := testPair()
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Forget())
	require.NoError(t, s.PersistPrivateKey(priv.Harden()))
	require.NoError(t, s.Forget())

	loaded, err := s.LoadPrivateKey()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestPersistNil(t *testing.T) { // A
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.Error(t, s.PersistPrivateKey(nil))
}

func TestOpenRequiresPath(t *testing.T) { // A
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestOpenChecksFreeSpace(t *testing.T) { // A
	_, err := Open(Config{Path: t.TempDir(), MinimumFreeSpace: 1 << 30})
	require.Error(t, err)
}

func TestBackupRoundTrip(t *testing.T) { // A
	pub, priv := testPair()
	jwk, err := priv.ExportJWK()
	require.NoError(t, err)

	backup, err := BuildEncryptedBackup(string(jwk), "login-pass")
	require.NoError(t, err)
	assert.False(t, backup.Empty())
	assert.NotContains(t, backup.Ciphertext, `"d"`)

	restored, err := RestoreFromBackup(backup, "login-pass")
	require.NoError(t, err)
	assert.True(t, restored.Public().Equal(pub))

	_, err = RestoreFromBackup(backup, "wrong-pass")
	require.ErrorIs(t, err, envelope.ErrInvalidPassword)
}

func TestBackupRejectsEmptyKey(t *testing.T) { // A
	_, err := BuildEncryptedBackup("", "pw")
	require.Error(t, err)
}
