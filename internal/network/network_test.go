package network

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectProtocolsNewestFirst(t *testing.T) {
	require.Equal(t, []string{ProtocolBitswap120, ProtocolBitswap110, ProtocolBitswap100}, SelectProtocols(false))
}

func TestSelectProtocolsB100OnlyRestrictsToLegacy(t *testing.T) {
	require.Equal(t, []string{ProtocolBitswap100}, SelectProtocols(true))
}

func TestProtocolVersionMapping(t *testing.T) {
	cases := map[string]struct{}{
		ProtocolBitswap100: {},
		ProtocolBitswap110: {},
		ProtocolBitswap120: {},
	}
	for id := range cases {
		_ = protocolVersion(id) // exercised directly; distinct constants asserted below
	}
	require.NotEqual(t, protocolVersion(ProtocolBitswap100), protocolVersion(ProtocolBitswap110))
	require.NotEqual(t, protocolVersion(ProtocolBitswap110), protocolVersion(ProtocolBitswap120))
}
