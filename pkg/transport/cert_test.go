package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplicaIdentityMarshalJSONRoundTrips(t *testing.T) {
	id, err := NewReplicaIdentity("replica-a")
	require.NoError(t, err)

	data, err := id.MarshalJSON()
	require.NoError(t, err)

	loaded, err := LoadReplicaIdentity(data)
	require.NoError(t, err)

	require.Equal(t, id.Fingerprint(), loaded.Fingerprint())
	require.Equal(t, id.Cert.Subject.CommonName, loaded.Cert.Subject.CommonName)
	require.Equal(t, id.Key.D, loaded.Key.D)

	sig, err := loaded.Sign([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, verifySignature(id.Cert, []byte("payload"), sig))
}

func TestLoadReplicaIdentityRejectsGarbage(t *testing.T) {
	_, err := LoadReplicaIdentity([]byte("not json"))
	require.Error(t, err)
}
