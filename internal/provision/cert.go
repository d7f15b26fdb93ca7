package provision

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// Certificate is a minted device credential: PEM-encoded cert + private
// key, plus the opaque handle the broker identity stores against.
type Certificate struct {
	Handle     string
	CertPEM    []byte
	PrivateKey []byte
	NotAfter   time.Time
}

// mintCertificate issues a self-signed ECDSA client certificate, valid for
// ttl from now, for a device's MQTT mutual-TLS client auth (spec §6.1). There is no
// certificate-authority library anywhere in the reference pack — issuing
// a leaf cert is a one-shot stdlib operation (crypto/x509 + crypto/ecdsa),
// not a library concern like HTTP routing or structured logging, so it is
// built directly on the standard library (see DESIGN.md).
func mintCertificate(commonName string, ttl time.Duration, now time.Time) (*Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate device key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-5 * time.Minute),
		NotAfter:     now.Add(ttl),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal device key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return &Certificate{
		Handle:     fmt.Sprintf("%s-%x", commonName, serial.Bytes()),
		CertPEM:    certPEM,
		PrivateKey: keyPEM,
		NotAfter:   template.NotAfter,
	}, nil
}
