package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Credentials are an API key triple. CLOB L2 secrets and builder secrets are
// both base64 (standard or url-safe).
type Credentials struct {
	Key        string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Empty reports whether no key is set.
func (c Credentials) Empty() bool { return c.Key == "" || c.Secret == "" }

// String redacts the secret parts.
func (c Credentials) String() string {
	mask := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("Credentials{key=%s, secret=%s}", mask(c.Key), mask(c.Secret))
}

// L2Headers signs an authenticated CLOB request made by address.
func (c Credentials) L2Headers(address, method, path string, body []byte, unixTS int64) (map[string]string, error) {
	ts := strconv.FormatInt(unixTS, 10)
	sig, err := SignRequest(c.Secret, ts, method, path, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    c.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": c.Passphrase,
		"POLY_SIGNATURE":  sig,
	}, nil
}

// BuilderHeaders signs the order-attribution headers of a builder account.
func (c Credentials) BuilderHeaders(method, path string, body []byte, unixTS int64) (map[string]string, error) {
	ts := strconv.FormatInt(unixTS, 10)
	sig, err := SignRequest(c.Secret, ts, method, path, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"POLY_BUILDER_API_KEY":    c.Key,
		"POLY_BUILDER_TIMESTAMP":  ts,
		"POLY_BUILDER_PASSPHRASE": c.Passphrase,
		"POLY_BUILDER_SIGNATURE":  sig,
	}, nil
}

// SignRequest computes the url-safe base64 HMAC-SHA256 of
// timestamp+method+path+body under the decoded secret.
func SignRequest(secret, timestamp, method, path string, body []byte) (string, error) {
	key, err := base64.StdEncoding.DecodeString(normalizeSecret(secret))
	if err != nil {
		return "", fmt.Errorf("crypto: decode api secret: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp + method + path))
	mac.Write(body)
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// normalizeSecret maps url-safe base64 onto the standard alphabet, drops
// stray characters and restores padding.
func normalizeSecret(secret string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(secret) {
		switch {
		case r == '-':
			b.WriteByte('+')
		case r == '_':
			b.WriteByte('/')
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '+', r == '/', r == '=':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if rem := len(out) % 4; rem != 0 {
		out += strings.Repeat("=", 4-rem)
	}
	return out
}
