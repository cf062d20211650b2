package tlsutil

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTLSConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	require.NotEmpty(t, cfg.CipherSuites)
	for _, cs := range cfg.CipherSuites {
		switch cs {
		case tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305:
		default:
			t.Errorf("unexpected non-AEAD cipher suite: %d", cs)
		}
	}
}

func TestNewTransport(t *testing.T) {
	t.Parallel()

	opts := DefaultTransportOptions()
	opts.MaxIdleConnsPerHost = 7
	tr := NewTransport(opts)

	require.NotNil(t, tr.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
	assert.True(t, tr.ForceAttemptHTTP2)
	assert.Equal(t, 7, tr.MaxIdleConnsPerHost)
}

func TestSecureHTTPClient_SharesTransport(t *testing.T) {
	t.Parallel()

	a := SecureHTTPClient(15 * time.Second)
	b := SecureHTTPClient(time.Minute)

	assert.Equal(t, 15*time.Second, a.Timeout)
	assert.Equal(t, time.Minute, b.Timeout)
	assert.Same(t, a.Transport, b.Transport)
	assert.Same(t, SharedTransport(), a.Transport)
}
