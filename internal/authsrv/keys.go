package authsrv

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"math/big"

	"crypto/rand"
)

// SigningKey wraps the RSA key pair used to sign issued tokens. The
// key id is derived from the public key so restarts with the same
// configured key keep a stable JWKS.
type SigningKey struct {
	Private *rsa.PrivateKey
	KeyID   string
}

// LoadSigningKey parses a PEM-encoded RSA private key, or generates an
// ephemeral 2048-bit key when pemData is empty. Ephemeral keys mean
// issued tokens do not survive a restart, which is acceptable for
// development; production deployments configure a persistent key.
func LoadSigningKey(pemData string) (*SigningKey, error) {
	if pemData == "" {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		log.Println("[AuthSrv] No signing key configured, generated ephemeral RSA key")
		return &SigningKey{Private: key, KeyID: keyIDOf(&key.PublicKey)}, nil
	}

	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("signing key is not valid PEM")
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
		key = parsed
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("signing key must be an RSA key")
		}
		key = rsaKey
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}

	return &SigningKey{Private: key, KeyID: keyIDOf(&key.PublicKey)}, nil
}

// JWKS returns the public key set document served at the JWKS
// endpoint (RFC 7517).
func (k *SigningKey) JWKS() map[string]any {
	pub := &k.Private.PublicKey
	return map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"use": "sig",
				"alg": "RS256",
				"kid": k.KeyID,
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
}

func keyIDOf(pub *rsa.PublicKey) string {
	sum := sha256.Sum256(pub.N.Bytes())
	return hex.EncodeToString(sum[:8])
}
