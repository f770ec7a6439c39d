package sipnet

import "testing"

import "github.com/stretchr/testify/assert"

func TestProtocolDefaultPort(t *testing.T) {
	assert.Equal(t, 5060, UDP.DefaultPort())
	assert.Equal(t, 5060, TCP.DefaultPort())
	assert.Equal(t, 5061, TLS.DefaultPort())
	assert.Equal(t, 5060, WS.DefaultPort())
	assert.Equal(t, 5061, WSS.DefaultPort())
}

func TestProtocolIsReliable(t *testing.T) {
	assert.False(t, UDP.IsReliable())
	for _, p := range []Protocol{TCP, TLS, WS, WSS} {
		assert.True(t, p.IsReliable(), p.String())
	}
}

func TestProtocolIsStreamed(t *testing.T) {
	assert.True(t, TCP.IsStreamed())
	assert.True(t, TLS.IsStreamed())
	assert.False(t, UDP.IsStreamed())
	assert.False(t, WS.IsStreamed())
	assert.False(t, WSS.IsStreamed())
}

func TestProtocolIsSecure(t *testing.T) {
	assert.True(t, TLS.IsSecure())
	assert.True(t, WSS.IsSecure())
	assert.False(t, TCP.IsSecure())
	assert.False(t, UDP.IsSecure())
	assert.False(t, WS.IsSecure())
}

func TestParseProtocol(t *testing.T) {
	cases := map[string]Protocol{
		"udp": UDP, "UDP": UDP,
		"tcp": TCP, "Tcp": TCP,
		"tls": TLS, "ws": WS, "wss": WSS,
	}
	for in, want := range cases {
		got, ok := ParseProtocol(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseProtocol("sctp")
	assert.False(t, ok)
}
