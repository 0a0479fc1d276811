package wecom

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

const (
	testToken     = "cb-token"
	testReceiveID = "corp-1"
)

// testAESKey is a 43-character EncodingAESKey (32 bytes base64 without the
// trailing '=').
var testAESKey = strings.TrimSuffix(
	base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x5a}, 32)), "=")

func newTestCryptor(t *testing.T) *Cryptor {
	t.Helper()
	c, err := NewCryptor(testToken, testAESKey, testReceiveID)
	require.NoError(t, err)
	return c
}

func TestNewCryptor_RejectsBadKey(t *testing.T) {
	_, err := NewCryptor(testToken, "too-short", testReceiveID)
	require.Error(t, err)
}

func TestCryptor_RoundTrip(t *testing.T) {
	c := newTestCryptor(t)
	msg := []byte(`{"MsgType": "text", "Content": "你好"}`)

	ciphertext, err := c.Encrypt(msg)
	require.NoError(t, err)
	plain, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, msg, plain)
}

func TestCryptor_ReceiveIDMismatch(t *testing.T) {
	c := newTestCryptor(t)
	other, err := NewCryptor(testToken, testAESKey, "corp-other")
	require.NoError(t, err)

	ciphertext, err := other.Encrypt([]byte("hello"))
	require.NoError(t, err)
	_, err = c.Decrypt(ciphertext)
	require.Error(t, err)
}

func TestCryptor_Verify(t *testing.T) {
	c := newTestCryptor(t)
	sig := c.Signature("1700000000", "nonce-1", "cipher-1")

	require.NoError(t, c.Verify(sig, "1700000000", "nonce-1", "cipher-1"))
	require.Error(t, c.Verify(sig, "1700000001", "nonce-1", "cipher-1"))
	require.Error(t, c.Verify("", "1700000000", "nonce-1", "cipher-1"))
}

func TestCryptor_RoundTripProperty(t *testing.T) {
	c := newTestCryptor(t)

	rapid.Check(t, func(rt *rapid.T) {
		msg := []byte(rapid.StringN(0, 512, 2048).Draw(rt, "msg"))
		ciphertext, err := c.Encrypt(msg)
		if err != nil {
			rt.Fatalf("encrypt: %v", err)
		}
		plain, err := c.Decrypt(ciphertext)
		if err != nil {
			rt.Fatalf("decrypt: %v", err)
		}
		if !bytes.Equal(msg, plain) {
			rt.Fatalf("round trip mismatch: %q != %q", msg, plain)
		}
	})
}

func testSettings() Settings {
	return Settings{
		Token:          testToken,
		EncodingAESKey: testAESKey,
		ReceiveID:      testReceiveID,
		CorpID:         "corp-1",
		AgentSecret:    "agent-secret",
		AgentID:        "1000002",
	}
}

// signedQuery builds the callback query string for a ciphertext.
func signedQuery(c *Cryptor, ciphertext string) string {
	timestamp, nonce := "1700000000", "nonce-1"
	return fmt.Sprintf("msg_signature=%s&timestamp=%s&nonce=%s",
		c.Signature(timestamp, nonce, ciphertext), timestamp, nonce)
}

func TestEndpoint_EchostrHandshake(t *testing.T) {
	c := newTestCryptor(t)
	endpoint, err := NewEndpoint(testSettings(), nil, nil, zap.NewNop())
	require.NoError(t, err)

	echostr, err := c.Encrypt([]byte("echo-plain"))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/wecom?"+signedQuery(c, echostr), nil)
	q := r.URL.Query()
	q.Set("echostr", echostr)
	r.URL.RawQuery = q.Encode()

	w := httptest.NewRecorder()
	endpoint.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "echo-plain", w.Body.String())
}

func TestEndpoint_EchostrBadSignature(t *testing.T) {
	c := newTestCryptor(t)
	endpoint, err := NewEndpoint(testSettings(), nil, nil, zap.NewNop())
	require.NoError(t, err)

	echostr, err := c.Encrypt([]byte("echo-plain"))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/wecom?msg_signature=bogus&timestamp=1&nonce=2", nil)
	q := r.URL.Query()
	q.Set("echostr", echostr)
	r.URL.RawQuery = q.Encode()

	w := httptest.NewRecorder()
	endpoint.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func postEncrypted(t *testing.T, endpoint *Endpoint, c *Cryptor, msg any) *httptest.ResponseRecorder {
	t.Helper()
	plain, err := json.Marshal(msg)
	require.NoError(t, err)
	ciphertext, err := c.Encrypt(plain)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"encrypt": ciphertext})
	r := httptest.NewRequest(http.MethodPost, "/wecom?"+signedQuery(c, ciphertext), bytes.NewReader(body))
	w := httptest.NewRecorder()
	endpoint.ServeHTTP(w, r)
	return w
}

func TestEndpoint_TextMessageReply(t *testing.T) {
	var tokenCalls, sendCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cgi-bin/gettoken":
			tokenCalls++
			assert.Equal(t, "corp-1", r.URL.Query().Get("corpid"))
			assert.Equal(t, "agent-secret", r.URL.Query().Get("corpsecret"))
			json.NewEncoder(w).Encode(map[string]any{
				"errcode": 0, "access_token": "tok-1", "expires_in": 7200,
			})
		case "/cgi-bin/message/send":
			sendCalls++
			assert.Equal(t, "tok-1", r.URL.Query().Get("access_token"))
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "user-9", payload["touser"])
			assert.Equal(t, "text", payload["msgtype"])
			text := payload["text"].(map[string]any)
			assert.Equal(t, "pong", text["content"])
			json.NewEncoder(w).Encode(map[string]any{"errcode": 0})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	respond := func(ctx context.Context, userID, content string) (string, error) {
		assert.Equal(t, "user-9", userID)
		assert.Equal(t, "ping", content)
		return "pong", nil
	}
	endpoint, err := NewEndpoint(testSettings(), respond, nil, zap.NewNop())
	require.NoError(t, err)
	endpoint.baseOverride = server.URL

	c := newTestCryptor(t)
	msg := map[string]string{"MsgType": "text", "Content": "ping", "FromUserName": "user-9"}

	w := postEncrypted(t, endpoint, c, msg)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", w.Body.String())

	// second delivery reuses the cached access token
	w = postEncrypted(t, endpoint, c, msg)
	assert.Equal(t, "success", w.Body.String())
	assert.Equal(t, 1, tokenCalls)
	assert.Equal(t, 2, sendCalls)
}

func TestEndpoint_NonTextAcknowledged(t *testing.T) {
	respond := func(ctx context.Context, userID, content string) (string, error) {
		t.Fatal("responder must not run for non-text messages")
		return "", nil
	}
	endpoint, err := NewEndpoint(testSettings(), respond, nil, zap.NewNop())
	require.NoError(t, err)

	c := newTestCryptor(t)
	w := postEncrypted(t, endpoint, c, map[string]string{"MsgType": "image", "FromUserName": "user-9"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", w.Body.String())
}

func TestEndpoint_BadSignatureRejected(t *testing.T) {
	endpoint, err := NewEndpoint(testSettings(), nil, nil, zap.NewNop())
	require.NoError(t, err)

	c := newTestCryptor(t)
	ciphertext, err := c.Encrypt([]byte(`{"MsgType": "text"}`))
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"encrypt": ciphertext})
	r := httptest.NewRequest(http.MethodPost, "/wecom?msg_signature=bogus&timestamp=1&nonce=2", bytes.NewReader(body))
	w := httptest.NewRecorder()
	endpoint.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEndpoint_InvalidTokenInvalidatesCache(t *testing.T) {
	var tokenCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cgi-bin/gettoken":
			tokenCalls++
			json.NewEncoder(w).Encode(map[string]any{
				"errcode": 0, "access_token": fmt.Sprintf("tok-%d", tokenCalls), "expires_in": 7200,
			})
		case "/cgi-bin/message/send":
			if r.URL.Query().Get("access_token") == "tok-1" {
				json.NewEncoder(w).Encode(map[string]any{"errcode": 42001, "errmsg": "token expired"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"errcode": 0})
		}
	}))
	defer server.Close()

	endpoint, err := NewEndpoint(testSettings(), nil, nil, zap.NewNop())
	require.NoError(t, err)
	endpoint.baseOverride = server.URL

	err = endpoint.SendText(context.Background(), "user-9", "hi")
	require.Error(t, err)

	// cache was invalidated, the retry fetches a fresh token and succeeds
	require.NoError(t, endpoint.SendText(context.Background(), "user-9", "hi"))
	assert.Equal(t, 2, tokenCalls)
}
