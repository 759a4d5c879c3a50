package transport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseTicketRoundTrips(t *testing.T) {
	id, err := NewReplicaIdentity("replica-a")
	require.NoError(t, err)

	ticket, err := id.GenerateInvite("replica-a", []string{"10.0.0.1:7443", "192.168.1.5:7443"})
	require.NoError(t, err)
	require.LessOrEqual(t, len(ticket), maxTicketLen)

	for _, r := range ticket {
		require.True(t, r <= 127, "ticket must be printable ASCII")
	}

	parsed, err := ParseTicket(ticket)
	require.NoError(t, err)
	require.Equal(t, "replica-a", parsed.NodeID)
	require.Equal(t, []string{"10.0.0.1:7443", "192.168.1.5:7443"}, parsed.Addresses)
	require.Equal(t, id.Fingerprint(), parsed.Fingerprint)
}

func TestParseTicketRejectsEmpty(t *testing.T) {
	_, err := ParseTicket("")
	require.Error(t, err)
}

func TestParseTicketRejectsOversized(t *testing.T) {
	_, err := ParseTicket(strings.Repeat("a", maxTicketLen+1))
	require.Error(t, err)
}

func TestParseTicketRejectsGarbage(t *testing.T) {
	_, err := ParseTicket("not a valid ticket at all")
	require.Error(t, err)
}

func TestParseTicketRejectsTamperedSignature(t *testing.T) {
	id, err := NewReplicaIdentity("replica-a")
	require.NoError(t, err)
	ticket, err := id.GenerateInvite("replica-a", []string{"10.0.0.1:7443"})
	require.NoError(t, err)

	tampered := []byte(ticket)
	tampered[len(tampered)-1] ^= 0x01
	_, err = ParseTicket(string(tampered))
	require.Error(t, err)
}
