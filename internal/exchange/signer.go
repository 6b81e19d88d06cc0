package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Params is an ordered query string. Order is preserved because the signature covers the exact bytes sent.
type Params []param

type param struct {
	key   string
	value string
}

// Add appends key=value and returns the extended list.
func (p Params) Add(key, value string) Params {
	return append(p, param{key: key, value: value})
}

// Encode renders the params as key=value pairs joined by '&', escaping values in insertion order.
func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.value))
	}
	return b.String()
}

// Signer computes HMAC-SHA256 request signatures. The secret is held as bytes so it can be wiped.
type Signer struct {
	secret []byte
}

// NewSigner copies secret into a new signer.
func NewSigner(secret []byte) *Signer {
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Signer{secret: s}
}

// Sign returns the lowercase hex HMAC-SHA256 of payload.
func (s *Signer) Sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Wipe zeroes the secret.
func (s *Signer) Wipe() {
	for i := range s.secret {
		s.secret[i] = 0
	}
}
