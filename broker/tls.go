package broker

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

func (c TLSConfig) IsZero() bool {
	return c.CAFile == "" &&
		c.CertFile == "" &&
		c.KeyFile == "" &&
		c.ServerName == "" &&
		!c.InsecureSkipVerify
}

// Load returns nil when nothing is configured so the dialer falls back to
// system roots for tls:// and wss:// endpoints.
func (c TLSConfig) Load() (*tls.Config, error) {
	if c.IsZero() {
		return nil, nil
	}

	tlsCfg := &tls.Config{
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	if c.CAFile != "" {
		b, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(b) {
			return nil, errors.New("invalid ca file")
		}
		tlsCfg.RootCAs = pool
	}

	if c.CertFile != "" || c.KeyFile != "" {
		if c.CertFile == "" || c.KeyFile == "" {
			return nil, errors.New("cert_file and key_file must be set together")
		}
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}
