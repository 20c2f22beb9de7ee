package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
)

// DefaultRSAKeyBits is the modulus size used by GenerateSigningKey.
const DefaultRSAKeyBits = 2048

// LoadSigningKey reads a PEM encoded private key from path.
// RSA keys in PKCS1 or PKCS8 form and EC keys in SEC 1 or PKCS8 form are accepted.
func LoadSigningKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return ParseSigningKey(data)
}

// ParseSigningKey decodes a PEM encoded private key.
func ParseSigningKey(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block from signing key")
	}

	if rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return rsaKey, nil
	}
	if ecKey, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return ecKey, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, errors.New("signing key does not implement crypto.Signer")
	}
	return signer, nil
}

// LoadVerificationKey reads a PEM encoded public key or X.509 certificate from path.
// It lets a process verify credentials without holding the private key.
func LoadVerificationKey(path string) (crypto.PublicKey, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read verification key: %w", err)
	}
	return ParseVerificationKey(data)
}

// ParseVerificationKey decodes a PEM block of type CERTIFICATE, PUBLIC KEY or RSA PUBLIC KEY.
func ParseVerificationKey(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block from verification key")
	}

	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		return cert.PublicKey, nil
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		return key, nil
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

// GenerateSigningKey creates an ephemeral RSA key. Credentials signed with it
// do not survive a restart, so it is only suitable for development.
func GenerateSigningKey() (crypto.Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, DefaultRSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return key, nil
}

// KeyID computes the RFC 7638 JWK thumbprint of pub, base64url encoded.
func KeyID(pub crypto.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: pub}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}

// Algorithm returns the JWS algorithm matching the type of pub.
func Algorithm(pub crypto.PublicKey) (string, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return "RS256", nil
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return "ES256", nil
		case elliptic.P384():
			return "ES384", nil
		case elliptic.P521():
			return "ES512", nil
		default:
			return "", fmt.Errorf("unsupported EC curve: %s", k.Curve.Params().Name)
		}
	default:
		return "", fmt.Errorf("unsupported key type: %T", pub)
	}
}
