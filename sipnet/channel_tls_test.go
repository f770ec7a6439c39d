package sipnet

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateTestCert builds a minimal self-signed leaf certificate for host,
// the same on-the-fly generation net/http/httptest uses instead of shipping
// a fixture keypair — this module has no testdata/ directory of its own.
func generateTestCert(t *testing.T, host string) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP(host)},
		DNSNames:     []string{host},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}
}

func mustLocalTLSEndPoint() EndPoint {
	return EndPoint{Protocol: TLS, IP: net.ParseIP("127.0.0.1"), Port: 0}
}

func TestTLSChannelHandshakeAndDeliversMessage(t *testing.T) {
	cert := generateTestCert(t, "127.0.0.1")
	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	received := make(chan string, 1)
	serverCh, err := NewTLSChannel(mustLocalTLSEndPoint(), func(ch Channel, local, remote EndPoint, data []byte) {
		received <- string(data)
	}, crlfParser(), serverCfg, DefaultConfig(), DefaultLogger(), nil)
	require.NoError(t, err)
	defer serverCh.Close()

	roots := x509.NewCertPool()
	roots.AddCert(cert.Leaf)
	clientCfg := &tls.Config{RootCAs: roots}
	clientCh, err := NewTLSChannel(mustLocalTLSEndPoint(), func(Channel, EndPoint, EndPoint, []byte) {}, crlfParser(), clientCfg, DefaultConfig(), DefaultLogger(), nil)
	require.NoError(t, err)
	defer clientCh.Close()

	serverAddr := serverCh.listener.Addr().(*net.TCPAddr)
	dst := EndPoint{Protocol: TLS, IP: serverAddr.IP, Port: serverAddr.Port, Hostname: "127.0.0.1"}

	require.NoError(t, clientCh.SendSecureAsync(dst, []byte("OPTIONS sip:bob@example.com SIP/2.0\r\n\r\n"), "127.0.0.1", true, ""))

	select {
	case got := <-received:
		assert.Equal(t, "OPTIONS sip:bob@example.com SIP/2.0\r\n\r\n", got)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for tls message")
	}
}

func TestTLSChannelRejectsMismatchedServerName(t *testing.T) {
	cert := generateTestCert(t, "127.0.0.1")
	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	serverCh, err := NewTLSChannel(mustLocalTLSEndPoint(), func(Channel, EndPoint, EndPoint, []byte) {}, crlfParser(), serverCfg, DefaultConfig(), DefaultLogger(), nil)
	require.NoError(t, err)
	defer serverCh.Close()

	roots := x509.NewCertPool()
	roots.AddCert(cert.Leaf)
	cfg := DefaultConfig()
	cfg.TLSHandshakeTimeout = 500 * time.Millisecond
	clientCfg := &tls.Config{RootCAs: roots}
	clientCh, err := NewTLSChannel(mustLocalTLSEndPoint(), func(Channel, EndPoint, EndPoint, []byte) {}, crlfParser(), clientCfg, cfg, DefaultLogger(), nil)
	require.NoError(t, err)
	defer clientCh.Close()

	serverAddr := serverCh.listener.Addr().(*net.TCPAddr)
	dst := EndPoint{Protocol: TLS, IP: serverAddr.IP, Port: serverAddr.Port}

	err = clientCh.SendSecureAsync(dst, []byte("x"), "totally-wrong-name.example", true, "")
	assert.True(t, errorsIsKind(err, KindProtocolNotSupported))
}

func TestTLSChannelBypassCertificateValidation(t *testing.T) {
	cert := generateTestCert(t, "127.0.0.1")
	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	received := make(chan struct{}, 1)
	serverCh, err := NewTLSChannel(mustLocalTLSEndPoint(), func(Channel, EndPoint, EndPoint, []byte) {
		received <- struct{}{}
	}, crlfParser(), serverCfg, DefaultConfig(), DefaultLogger(), nil)
	require.NoError(t, err)
	defer serverCh.Close()

	cfg := DefaultConfig()
	cfg.BypassCertificateValidation = true
	// No RootCAs configured at all: without the bypass this dial would
	// fail certificate verification outright.
	clientCh, err := NewTLSChannel(mustLocalTLSEndPoint(), func(Channel, EndPoint, EndPoint, []byte) {}, crlfParser(), &tls.Config{}, cfg, DefaultLogger(), nil)
	require.NoError(t, err)
	defer clientCh.Close()

	serverAddr := serverCh.listener.Addr().(*net.TCPAddr)
	dst := EndPoint{Protocol: TLS, IP: serverAddr.IP, Port: serverAddr.Port, Hostname: "127.0.0.1"}

	require.NoError(t, clientCh.SendAsync(dst, []byte("OPTIONS sip:bob@example.com SIP/2.0\r\n\r\n"), true, ""))

	select {
	case <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for bypassed tls message")
	}
}

func TestTLSChannelSendAsyncReturnsDisconnectingAfterClose(t *testing.T) {
	cert := generateTestCert(t, "127.0.0.1")
	clientCh, err := NewTLSChannel(mustLocalTLSEndPoint(), func(Channel, EndPoint, EndPoint, []byte) {}, crlfParser(), &tls.Config{}, DefaultConfig(), DefaultLogger(), nil)
	require.NoError(t, err)
	require.NoError(t, clientCh.Close())
	_ = cert

	dst := EndPoint{Protocol: TLS, IP: net.ParseIP("192.0.2.1"), Port: 5061}
	err = clientCh.SendAsync(dst, []byte("x"), true, "")
	assert.True(t, errorsIsKind(err, KindDisconnecting))

	err = clientCh.SendSecureAsync(dst, []byte("x"), "example.com", true, "")
	assert.True(t, errorsIsKind(err, KindDisconnecting))
}
