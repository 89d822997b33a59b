package xsign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Signer holds the credentials used to authenticate private REST and
// WebSocket calls against the exchange, following Poloniex's
// key/signTimestamp/query-string HMAC scheme.
type Signer struct {
	Key    string
	Secret string
}

// NewSigner builds a Signer from a plaintext key/secret pair.
func NewSigner(key, secret string) *Signer {
	return &Signer{Key: key, Secret: secret}
}

// RESTHeaders returns the headers required on a signed REST request.
// The signature is HMAC-SHA256(secret, method+"\n"+path+"\n"+sortedParamString),
// hex-encoded.
func (s *Signer) RESTHeaders(method, path string, params url.Values) map[string]string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	signed := url.Values{}
	for k, v := range params {
		signed[k] = v
	}
	signed.Set("signTimestamp", ts)

	message := method + "\n" + path + "\n" + sortedQueryString(signed)
	sig := hmacSHA256Hex([]byte(s.Secret), message)

	return map[string]string{
		"key":           s.Key,
		"signTimestamp": ts,
		"signature":     sig,
	}
}

// RESTHeadersAt is like RESTHeaders but lets the caller supply the signing
// timestamp, for deterministic tests.
func (s *Signer) RESTHeadersAt(method, path string, params url.Values, unixMilli int64) map[string]string {
	ts := strconv.FormatInt(unixMilli, 10)

	signed := url.Values{}
	for k, v := range params {
		signed[k] = v
	}
	signed.Set("signTimestamp", ts)

	message := method + "\n" + path + "\n" + sortedQueryString(signed)
	sig := hmacSHA256Hex([]byte(s.Secret), message)

	return map[string]string{
		"key":           s.Key,
		"signTimestamp": ts,
		"signature":     sig,
	}
}

// WSAuthPayload returns the {key, signTimestamp, signature} triple used in
// the WebSocket private-channel authentication frame.
func (s *Signer) WSAuthPayload() (key, signTimestamp, signature string) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := "GET\n/ws\nsignTimestamp=" + ts
	return s.Key, ts, hmacSHA256Hex([]byte(s.Secret), message)
}

func sortedQueryString(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params.Get(k))
	}
	return strings.Join(parts, "&")
}

func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (s *Signer) String() string {
	redact := func(v string) string {
		if len(v) <= 4 {
			return "****"
		}
		return v[:4] + "****"
	}
	return fmt.Sprintf("Signer{key=%s, secret=%s}", redact(s.Key), redact(s.Secret))
}
