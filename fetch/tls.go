package fetch

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
)

// caBundleTransport builds an *http.Transport trusting only the system
// roots plus the PEM certificates found at path.
func caBundleTransport(path string) (*http.Transport, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading CA bundle %q: %w", path, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if ok := pool.AppendCertsFromPEM(pem); !ok {
		return nil, fmt.Errorf("fetch: no certificates found in %q", path)
	}
	return &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool},
	}, nil
}
