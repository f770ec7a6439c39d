package sipnet

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndPointString(t *testing.T) {
	ep := EndPoint{Protocol: TCP, IP: net.ParseIP("192.0.2.10"), Port: 5060}
	assert.Equal(t, "TCP:192.0.2.10:5060", ep.String())
}

func TestIsSocketEqualIgnoresHints(t *testing.T) {
	a := EndPoint{Protocol: UDP, IP: net.ParseIP("10.0.0.1"), Port: 5060, ChannelID: "ch1"}
	b := EndPoint{Protocol: UDP, IP: net.ParseIP("10.0.0.1"), Port: 5060, ChannelID: "ch2", ConnectionID: "conn9"}
	assert.True(t, IsSocketEqual(a, b))
}

func TestIsSocketEqualDiffersOnPortOrProtocol(t *testing.T) {
	a := EndPoint{Protocol: UDP, IP: net.ParseIP("10.0.0.1"), Port: 5060}
	b := EndPoint{Protocol: UDP, IP: net.ParseIP("10.0.0.1"), Port: 5061}
	assert.False(t, IsSocketEqual(a, b))

	c := EndPoint{Protocol: TCP, IP: net.ParseIP("10.0.0.1"), Port: 5060}
	assert.False(t, IsSocketEqual(a, c))
}

func TestParseAddr(t *testing.T) {
	host, port, err := ParseAddr("192.0.2.5:5060")
	assert.NoError(t, err)
	assert.Equal(t, "192.0.2.5", host)
	assert.Equal(t, 5060, port)

	_, _, err = ParseAddr("not-an-addr")
	assert.Error(t, err)
}

func TestAddressFamilyMatches(t *testing.T) {
	v4 := EndPoint{IP: net.ParseIP("192.0.2.5")}
	v6 := EndPoint{IP: net.ParseIP("2001:db8::1")}
	unspecified := EndPoint{}

	assert.True(t, addressFamilyMatches(v4, "ip4"))
	assert.False(t, addressFamilyMatches(v4, "ip6"))
	assert.True(t, addressFamilyMatches(v6, "ip6"))
	assert.False(t, addressFamilyMatches(v6, "ip4"))
	assert.True(t, addressFamilyMatches(unspecified, "ip4"))
	assert.True(t, addressFamilyMatches(unspecified, "ip6"))
}
