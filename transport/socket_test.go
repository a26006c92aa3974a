package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kryptco/commcore"
	"github.com/kryptco/commcore/channel"
	"github.com/kryptco/commcore/tlswrap"
)

func TestSplitScheme(t *testing.T) {
	network, address, ok := splitScheme("tcp://127.0.0.1:9000")
	require.True(t, ok)
	assert.Equal(t, "tcp", network)
	assert.Equal(t, "127.0.0.1:9000", address)

	_, _, ok = splitScheme("no-scheme-here")
	assert.False(t, ok)
}

func TestSocketPortRejectsUnknownScheme(t *testing.T) {
	p := NewSocketPort("carrier-pigeon://nowhere", channel.MockProtocol{}, "mock", false, nil)
	_, err := p.OpenChannel()
	require.Error(t, err)
	var unsupported *commcore.UnsupportedCommMedium
	assert.ErrorAs(t, err, &unsupported)
}

func TestListenAndAcceptRoundTrip(t *testing.T) {
	ln, err := Listen("tcp", "127.0.0.1:0", channel.MockProtocol{}, "mock", false)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *channel.Channel, 1)
	go func() {
		ch, err := ln.AcceptChannel()
		require.NoError(t, err)
		accepted <- ch
	}()

	port := NewSocketPort("tcp://"+ln.Addr().String(), channel.MockProtocol{}, "mock", false, nil)
	client, err := port.OpenChannel()
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	req := commcore.NewMessage("ping", "/", "hello")
	client.Lock()
	require.NoError(t, client.Send(req))
	client.Unlock()

	server.Lock()
	got, err := server.Recv()
	server.Unlock()
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Value())
}

func selfSignedCertForTest(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "commcore-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestListenerWithTLSConfigWrapsAcceptedConns(t *testing.T) {
	cert := selfSignedCertForTest(t)

	ln, err := Listen("tcp", "127.0.0.1:0", channel.MockProtocol{}, "mock", false)
	require.NoError(t, err)
	defer ln.Close()
	ln.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}

	accepted := make(chan *channel.Channel, 1)
	acceptErrs := make(chan error, 1)
	go func() {
		ch, err := ln.AcceptChannel()
		if err != nil {
			acceptErrs <- err
			return
		}
		accepted <- ch
	}()

	rawClient, err := (&net.Dialer{}).DialContext(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	clientWrapped, err := tlswrap.Wrap(context.Background(), rawClient, &tls.Config{InsecureSkipVerify: true}, false)
	require.NoError(t, err)
	defer clientWrapped.Close()

	select {
	case err := <-acceptErrs:
		t.Fatalf("AcceptChannel failed: %v", err)
	case server := <-accepted:
		defer server.Close()
		assert.True(t, server.IsOpen())
	}
}
