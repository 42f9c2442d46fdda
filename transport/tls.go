package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"time"
)

// alpn is the QUIC ALPN token nodes in this tree advertise. Kept distinct
// from the teacher's own so a stray dial to an unrelated QUIC service
// fails the handshake instead of silently connecting.
const alpn = "kaddht/1"

// generateTLSConfig builds a self-signed ECDSA cert, same pattern
// quic-go's own examples and netquic/node.go use: this is an internal
// overlay protocol, not a public service, so there's no CA to present a
// certificate signed by.
func generateTLSConfig() (*tls.Config, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
		Certificates: []tls.Certificate{
			{Certificate: [][]byte{der}, PrivateKey: priv},
		},
	}, nil
}
