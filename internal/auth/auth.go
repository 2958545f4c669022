// Package auth renders connect-time credentials as WebSocket handshake
// headers: either a static bearer token or an RSA-PSS request signature.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Header names for signed handshakes.
const (
	HeaderAccessKey       = "X-Access-Key"
	HeaderAccessTimestamp = "X-Access-Timestamp"
	HeaderAccessSignature = "X-Access-Signature"
)

// ErrNoCredentials is returned when neither a token nor a key is set.
var ErrNoCredentials = errors.New("no credentials configured")

// Credentials holds either a bearer token or an API key with its private key.
// The token wins when both are set.
type Credentials struct {
	Token      string          // Static bearer token
	KeyID      string          // API key ID
	PrivateKey *rsa.PrivateKey // RSA private key for signing

	now func() time.Time
}

// NewBearer creates token credentials.
func NewBearer(token string) (*Credentials, error) {
	if token == "" {
		return nil, fmt.Errorf("token is required")
	}
	return &Credentials{Token: token}, nil
}

// LoadCredentials loads signing credentials from key ID and private key file path.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("API key ID is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{
		KeyID:      keyID,
		PrivateKey: privateKey,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return ParsePrivateKey(data)
}

// ParsePrivateKey parses a PEM encoded PKCS#8 or PKCS#1 RSA key.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	// Try PKCS#8 first (newer format)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// Header returns the handshake headers for dialing rawURL. Signed headers
// carry a fresh timestamp on every call.
func (c *Credentials) Header(rawURL string) (http.Header, error) {
	h := http.Header{}

	switch {
	case c.Token != "":
		h.Set("Authorization", "Bearer "+c.Token)
		return h, nil
	case c.KeyID != "" && c.PrivateKey != nil:
	default:
		return nil, ErrNoCredentials
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	timestampMs := c.clock().UnixMilli()
	signature, err := c.sign(timestampMs, http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	h.Set(HeaderAccessKey, c.KeyID)
	h.Set(HeaderAccessTimestamp, strconv.FormatInt(timestampMs, 10))
	h.Set(HeaderAccessSignature, signature)
	return h, nil
}

func (c *Credentials) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// sign creates an RSA-PSS signature over timestamp_ms + method + path.
func (c *Credentials) sign(timestampMs int64, method, path string) (string, error) {
	hashed := sha256.Sum256([]byte(SigningMessage(timestampMs, method, path)))

	signature, err := rsa.SignPSS(
		rand.Reader,
		c.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}

// SigningMessage returns the string a peer verifies a signature against.
func SigningMessage(timestampMs int64, method, path string) string {
	return strconv.FormatInt(timestampMs, 10) + method + path
}
