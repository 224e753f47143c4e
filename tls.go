package pfresolved

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSClientConfig builds a tls.Config for the DNS-over-TLS forwarder dialer
// from an optional CA bundle and server name. An empty caFile falls back to
// the system trust store, matching the `tls-system-cert` default the
// upstream forwarder library uses when no explicit bundle is configured.
func TLSClientConfig(caFile, serverName string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}
	if caFile == "" {
		return tlsConfig, nil
	}
	certPool := x509.NewCertPool()
	b, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading cert bundle %s: %w", caFile, err)
	}
	if ok := certPool.AppendCertsFromPEM(b); !ok {
		return nil, fmt.Errorf("no CA certificates found in %s", caFile)
	}
	tlsConfig.RootCAs = certPool
	return tlsConfig, nil
}
