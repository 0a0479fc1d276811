// Package triggers holds the webhook dispatchers plus the signature and
// payload helpers they share. Each vendor lives in its own subpackage; this
// package only carries the primitives every dispatcher needs.
package triggers

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/BaSui01/hookflow/plugin"
)

// maxBodySize caps webhook bodies; vendors deliver small JSON documents.
const maxBodySize = 4 << 20

// ReadBody buffers the raw request body so signatures can be checked over
// the exact delivered bytes.
func ReadBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, plugin.NewError(plugin.ErrDispatchError, "missing request body")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, plugin.NewError(plugin.ErrDispatchError, "read request body").WithCause(err)
	}
	return body, nil
}

// ParseJSON decodes a webhook body into a generic object, rejecting empty
// and non-object payloads.
func ParseJSON(body []byte) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, plugin.NewError(plugin.ErrDispatchError, "payload is not a JSON object").WithCause(err)
	}
	if len(payload) == 0 {
		return nil, plugin.NewError(plugin.ErrDispatchError, "empty payload")
	}
	return payload, nil
}

// HMACSHA256Hex computes the hex digest of the body under the key.
func HMACSHA256Hex(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HMACSHA256Base64 computes the standard-base64 digest of the body under the
// key.
func HMACSHA256Base64(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// HMACSHA1Base64 computes the standard-base64 SHA-1 digest of the body under
// the key. Twilio still signs with SHA-1.
func HMACSHA1Base64(key, body []byte) string {
	mac := hmac.New(sha1.New, key)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SecureCompare reports whether two signature strings match in constant
// time.
func SecureCompare(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
