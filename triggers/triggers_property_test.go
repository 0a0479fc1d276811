package triggers

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Signature helpers back every dispatcher's verification path, so their
// algebra is pinned down property-style: digests are deterministic, key- and
// body-sensitive, and SecureCompare agrees with plain equality.
func TestProperty_SignatureHelpers(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("digests are deterministic", prop.ForAll(
		func(key string, body []byte) bool {
			k := []byte(key)
			return HMACSHA256Hex(k, body) == HMACSHA256Hex(k, body) &&
				HMACSHA256Base64(k, body) == HMACSHA256Base64(k, body) &&
				HMACSHA1Base64(k, body) == HMACSHA1Base64(k, body)
		},
		gen.AnyString(),
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("flipping a body byte changes the digest", prop.ForAll(
		func(key string, body []byte, at uint8) bool {
			if len(body) == 0 {
				return true
			}
			k := []byte(key)
			tampered := append([]byte(nil), body...)
			tampered[int(at)%len(tampered)] ^= 0x01
			return !SecureCompare(HMACSHA256Hex(k, body), HMACSHA256Hex(k, tampered))
		},
		gen.AnyString(),
		gen.SliceOf(gen.UInt8()),
		gen.UInt8(),
	))

	properties.Property("a different key yields a different digest", prop.ForAll(
		func(key string, body []byte) bool {
			a := HMACSHA256Base64([]byte(key), body)
			b := HMACSHA256Base64([]byte(key+"x"), body)
			return !SecureCompare(a, b)
		},
		gen.AnyString(),
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("SecureCompare agrees with equality", prop.ForAll(
		func(a, b string) bool {
			return SecureCompare(a, b) == (a == b)
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// ParseJSON must only ever accept JSON objects: any non-object document a
// vendor could deliver is rejected with a dispatch error.
func TestProperty_ParseJSONAcceptsOnlyObjects(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("scalar payloads are rejected", prop.ForAll(
		func(n int64) bool {
			body, _ := json.Marshal(n)
			_, err := ParseJSON(body)
			return err != nil
		},
		gen.Int64(),
	))

	properties.Property("single-key objects round-trip", prop.ForAll(
		func(key, value string) bool {
			if key == "" {
				return true
			}
			body, _ := json.Marshal(map[string]string{key: value})
			payload, err := ParseJSON(body)
			if err != nil {
				return false
			}
			got, _ := payload[key].(string)
			return got == value
		},
		gen.AlphaString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
