package snowflake

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/BaSui01/hookflow/plugin"
)

// maxKeyPairLifetime is the longest JWT lifetime Snowflake accepts.
const maxKeyPairLifetime = time.Hour

// ParsePrivateKey decodes a PEM-encoded RSA private key in PKCS#8 or PKCS#1
// form.
func ParsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, plugin.NewError(plugin.ErrCredentialsInvalid, "private key is not valid PEM").WithProvider("snowflake")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, plugin.NewError(plugin.ErrCredentialsInvalid, "private key is not RSA").WithProvider("snowflake")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrCredentialsInvalid, "cannot parse RSA private key").
			WithCause(err).WithProvider("snowflake")
	}
	return rsaKey, nil
}

// PublicKeyFingerprint computes the SHA256:<base64> fingerprint of the
// public key half, matching RSA_PUBLIC_KEY_FP reported by Snowflake.
func PublicKeyFingerprint(key *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return "SHA256:" + base64.StdEncoding.EncodeToString(sum[:]), nil
}

// KeyPairToken mints a short-lived RS256 JWT for key-pair authentication.
// Account and user are uppercased per the Snowflake identifier rules; the
// account's region suffix does not participate in the issuer.
func KeyPairToken(account, user string, key *rsa.PrivateKey, lifetime time.Duration) (string, error) {
	if lifetime <= 0 || lifetime > maxKeyPairLifetime {
		lifetime = maxKeyPairLifetime
	}

	fingerprint, err := PublicKeyFingerprint(key)
	if err != nil {
		return "", err
	}

	qualified := strings.ToUpper(account) + "." + strings.ToUpper(user)
	now := time.Now()

	claims := jwt.RegisteredClaims{
		Issuer:    qualified + "." + fingerprint,
		Subject:   qualified,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", plugin.NewError(plugin.ErrCredentialsInvalid, "sign key-pair jwt").
			WithCause(err).WithProvider("snowflake")
	}
	return signed, nil
}
