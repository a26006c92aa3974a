package tlswrap

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
)

func selfSignedCert(t *testing.T) tls.Certificate {
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

func TestWrapNegotiatesTLS(t *testing.T) {
	cert := selfSignedCert(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan *WrappedConn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		wrapped, err := Wrap(context.Background(), conn, &tls.Config{Certificates: []tls.Certificate{cert}}, true)
		require.NoError(t, err)
		serverDone <- wrapped
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	clientWrapped, err := Wrap(context.Background(), clientConn, &tls.Config{InsecureSkipVerify: true}, false)
	require.NoError(t, err)
	defer clientWrapped.Close()

	serverWrapped := <-serverDone
	defer serverWrapped.Close()

	assert.Equal(t, uint64(1), clientWrapped.NegotiatedVersion().Major)
	assert.True(t, clientWrapped.NegotiatedVersion().Minor == 2 || clientWrapped.NegotiatedVersion().Minor == 3)

	msg := []byte("hello over tls")
	go func() { _, _ = clientWrapped.Write(msg) }()

	buf := make([]byte, len(msg))
	_, err = serverWrapped.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, msg, buf)
}

func TestWrapRejectsNonNetConn(t *testing.T) {
	_, err := Wrap(context.Background(), nopConn{}, nil, false)
	require.Error(t, err)
}

type nopConn struct{}

func (nopConn) Read([]byte) (int, error)  { return 0, nil }
func (nopConn) Write([]byte) (int, error) { return 0, nil }
func (nopConn) Close() error              { return nil }
