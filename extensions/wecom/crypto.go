// Package wecom implements a WeCom (企业微信) bot endpoint: the encrypted
// callback handshake and message flow, plus the application message/send API
// with a cached access token.
package wecom

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/BaSui01/hookflow/plugin"
)

// Cryptor implements the WeCom callback message crypto (WXBizMsgCrypt):
// AES-256-CBC over a framed plaintext, with a SHA-1 signature over the
// sorted token/timestamp/nonce/ciphertext tuple.
type Cryptor struct {
	token     string
	key       []byte
	receiveID string
}

// NewCryptor decodes the 43-character EncodingAESKey into the 32-byte AES
// key.
func NewCryptor(token, encodingAESKey, receiveID string) (*Cryptor, error) {
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil || len(key) != 32 {
		return nil, plugin.NewError(plugin.ErrCredentialsInvalid,
			"encoding_aes_key must be 43 base64 characters").WithCause(err).WithProvider("wecom")
	}
	return &Cryptor{token: token, key: key, receiveID: receiveID}, nil
}

// Signature computes the callback signature: SHA-1 over the sorted
// concatenation of token, timestamp, nonce and the ciphertext.
func (c *Cryptor) Signature(timestamp, nonce, ciphertext string) string {
	parts := []string{c.token, timestamp, nonce, ciphertext}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// Verify checks a callback signature in constant time.
func (c *Cryptor) Verify(signature, timestamp, nonce, ciphertext string) error {
	expected := c.Signature(timestamp, nonce, ciphertext)
	if signature == "" || !hmac.Equal([]byte(signature), []byte(expected)) {
		return plugin.NewError(plugin.ErrSignatureInvalid,
			"callback signature mismatch").WithProvider("wecom")
	}
	return nil
}

// Encrypt frames and encrypts a message: 16 random bytes, the big-endian
// message length, the message, then the receive id, PKCS#7 padded to the
// 32-byte block.
func (c *Cryptor) Encrypt(msg []byte) (string, error) {
	buf := make([]byte, 16, 16+4+len(msg)+len(c.receiveID))
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg)))
	buf = append(buf, msg...)
	buf = append(buf, c.receiveID...)
	buf = pkcs7Pad(buf, 32)

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, c.key[:aes.BlockSize]).CryptBlocks(out, buf)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt and checks the embedded receive id.
func (c *Cryptor) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrBadRequest,
			"ciphertext is not base64").WithCause(err).WithProvider("wecom")
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, plugin.NewError(plugin.ErrBadRequest,
			"ciphertext length is not block-aligned").WithProvider("wecom")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, c.key[:aes.BlockSize]).CryptBlocks(plain, raw)

	plain, err = pkcs7Unpad(plain, 32)
	if err != nil {
		return nil, err
	}
	if len(plain) < 20 {
		return nil, plugin.NewError(plugin.ErrBadRequest,
			"decrypted frame too short").WithProvider("wecom")
	}

	msgLen := binary.BigEndian.Uint32(plain[16:20])
	rest := plain[20:]
	if uint32(len(rest)) < msgLen {
		return nil, plugin.NewError(plugin.ErrBadRequest,
			"decrypted frame truncated").WithProvider("wecom")
	}
	msg := rest[:msgLen]
	if id := string(rest[msgLen:]); id != c.receiveID {
		return nil, plugin.NewError(plugin.ErrSignatureInvalid,
			"receive id mismatch").WithProvider("wecom")
	}
	return msg, nil
}

// DecryptEchostr handles the GET verification handshake: verify the
// signature over the echostr, then return its decrypted content.
func (c *Cryptor) DecryptEchostr(signature, timestamp, nonce, echostr string) ([]byte, error) {
	if err := c.Verify(signature, timestamp, nonce, echostr); err != nil {
		return nil, err
	}
	return c.Decrypt(echostr)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(pad)}, pad)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, plugin.NewError(plugin.ErrBadRequest, "empty plaintext").WithProvider("wecom")
	}
	pad := int(data[len(data)-1])
	if pad < 1 || pad > blockSize || pad > len(data) {
		return nil, plugin.NewError(plugin.ErrBadRequest, "invalid padding").WithProvider("wecom")
	}
	return data[:len(data)-pad], nil
}
