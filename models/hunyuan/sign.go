package hunyuan

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	signAlgorithm = "TC3-HMAC-SHA256"
	signService   = "hunyuan"
	signedHeaders = "content-type;host;x-tc-action"
)

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// authorization builds the TC3-HMAC-SHA256 Authorization header for a
// Tencent cloud API call. The canonical request covers the JSON content
// type, the host and the lowercased action; the signing key is derived
// date → service → tc3_request.
func authorization(secretID, secretKey, host, action string, payload []byte, now time.Time) string {
	date := now.UTC().Format("2006-01-02")

	canonicalHeaders := "content-type:application/json\nhost:" + host +
		"\nx-tc-action:" + strings.ToLower(action) + "\n"
	canonicalRequest := strings.Join([]string{
		"POST", "/", "",
		canonicalHeaders, signedHeaders,
		sha256Hex(payload),
	}, "\n")

	credentialScope := date + "/" + signService + "/tc3_request"
	stringToSign := strings.Join([]string{
		signAlgorithm,
		strconv.FormatInt(now.Unix(), 10),
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	secretDate := hmacSHA256([]byte("TC3"+secretKey), []byte(date))
	secretService := hmacSHA256(secretDate, []byte(signService))
	secretSigning := hmacSHA256(secretService, []byte("tc3_request"))
	signature := hex.EncodeToString(hmacSHA256(secretSigning, []byte(stringToSign)))

	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		signAlgorithm, secretID, credentialScope, signedHeaders, signature)
}
