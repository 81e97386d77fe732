package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Signer produces the hex HMAC-SHA256 signature over a canonicalised query
// string. The engine only calls signer(query) -> hex; the venue owns the
// exact canonicalisation and key material.
type Signer interface {
	Sign(query url.Values) (string, error)
}

// HMACSigner signs the query string's keys in sorted order, matching the
// common "canonical query string" convention used by most HMAC-keyed REST
// venues.
type HMACSigner struct {
	apiSecret string
}

// NewHMACSigner builds a signer over apiSecret.
func NewHMACSigner(apiSecret string) *HMACSigner {
	return &HMACSigner{apiSecret: apiSecret}
}

// Canonicalize sorts query parameters by key and joins them as a single
// "k=v&k=v" string, the message signed by Sign.
func Canonicalize(query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(query.Get(k))
	}
	return b.String()
}

// Sign returns the hex-encoded HMAC-SHA256 signature of the canonical query string.
func (s *HMACSigner) Sign(query url.Values) (string, error) {
	mac := hmac.New(sha256.New, []byte(s.apiSecret))
	mac.Write([]byte(Canonicalize(query)))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
