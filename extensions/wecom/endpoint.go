package wecom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/internal/cache"
	"github.com/BaSui01/hookflow/plugin"
)

const defaultAPIBase = "https://qyapi.weixin.qq.com"

// maxReplyRunes caps the reply text; message/send rejects longer content.
const maxReplyRunes = 2048

// Settings configures one bot endpoint instance.
type Settings struct {
	Token          string `yaml:"token"`
	EncodingAESKey string `yaml:"encoding_aes_key"`
	ReceiveID      string `yaml:"receive_id"`
	CorpID         string `yaml:"corp_id"`
	AgentSecret    string `yaml:"agent_secret"`
	AgentID        string `yaml:"agent_id"`
}

// Responder produces the reply text for an inbound text message.
type Responder func(ctx context.Context, userID, content string) (string, error)

// Endpoint serves the WeCom callback URL: GET answers the echostr
// verification handshake, POST decrypts the delivery and replies to text
// messages through the application message API.
type Endpoint struct {
	settings Settings
	cryptor  *Cryptor
	respond  Responder
	tokens   *cache.TokenSource
	http     *http.Client
	logger   *zap.Logger

	baseOverride string
}

// NewEndpoint validates the settings and builds the endpoint.
func NewEndpoint(settings Settings, respond Responder, tokens *cache.TokenSource, logger *zap.Logger) (*Endpoint, error) {
	if settings.Token == "" || settings.EncodingAESKey == "" || settings.ReceiveID == "" {
		return nil, plugin.NewError(plugin.ErrCredentialsInvalid,
			"token, encoding_aes_key and receive_id are required").WithProvider("wecom")
	}
	cryptor, err := NewCryptor(settings.Token, settings.EncodingAESKey, settings.ReceiveID)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		tokens = cache.NewTokenSource(cache.NewMemoryCache(), time.Minute)
	}
	return &Endpoint{
		settings: settings,
		cryptor:  cryptor,
		respond:  respond,
		tokens:   tokens,
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With(zap.String("extension", "wecom")),
	}, nil
}

func (e *Endpoint) base() string {
	if e.baseOverride != "" {
		return e.baseOverride
	}
	return defaultAPIBase
}

// inboundMessage is the decrypted callback payload.
type inboundMessage struct {
	MsgType      string `json:"MsgType"`
	Content      string `json:"Content"`
	FromUserName string `json:"FromUserName"`
}

func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		e.handleEchostr(w, r)
	case http.MethodPost:
		e.handleMessage(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleEchostr answers the URL verification handshake with the decrypted
// echostr.
func (e *Endpoint) handleEchostr(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	echostr := query.Get("echostr")
	if echostr == "" {
		http.Error(w, "missing echostr", http.StatusBadRequest)
		return
	}
	plain, err := e.cryptor.DecryptEchostr(
		query.Get("msg_signature"), query.Get("timestamp"), query.Get("nonce"), echostr)
	if err != nil {
		e.logger.Warn("echostr verification failed", zap.Error(err))
		http.Error(w, "verification failed", http.StatusBadRequest)
		return
	}
	w.Write(plain)
}

func (e *Endpoint) handleMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Encrypt string `json:"encrypt"`
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || json.Unmarshal(data, &body) != nil || body.Encrypt == "" {
		http.Error(w, "missing encrypt field", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	if err := e.cryptor.Verify(
		query.Get("msg_signature"), query.Get("timestamp"), query.Get("nonce"), body.Encrypt); err != nil {
		http.Error(w, "signature mismatch", http.StatusBadRequest)
		return
	}
	plain, err := e.cryptor.Decrypt(body.Encrypt)
	if err != nil {
		e.logger.Warn("message decryption failed", zap.Error(err))
		http.Error(w, "decrypt failed", http.StatusBadRequest)
		return
	}

	var msg inboundMessage
	if err := json.Unmarshal(plain, &msg); err != nil {
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}
	// Only text messages get a reply; everything else is acknowledged.
	if msg.MsgType != "text" || msg.Content == "" || msg.FromUserName == "" || e.respond == nil {
		io.WriteString(w, "success")
		return
	}

	answer, err := e.respond(r.Context(), msg.FromUserName, msg.Content)
	if err != nil {
		e.logger.Error("responder failed", zap.Error(err))
		fmt.Fprintf(w, "error:%v", err)
		return
	}
	if err := e.SendText(r.Context(), msg.FromUserName, answer); err != nil {
		e.logger.Error("reply delivery failed", zap.Error(err))
		fmt.Fprintf(w, "error:%v", err)
		return
	}
	io.WriteString(w, "success")
}

// apiResult is the common qyapi response envelope.
type apiResult struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// SendText delivers a text message to the user through the application
// message API, fetching the access token from the cache.
func (e *Endpoint) SendText(ctx context.Context, userID, content string) error {
	if e.settings.CorpID == "" || e.settings.AgentSecret == "" || e.settings.AgentID == "" {
		return plugin.NewError(plugin.ErrCredentialsInvalid,
			"corp_id, agent_secret and agent_id are required to reply").WithProvider("wecom")
	}
	token, err := e.accessToken(ctx)
	if err != nil {
		return err
	}

	if runes := []rune(content); len(runes) > maxReplyRunes {
		content = string(runes[:maxReplyRunes])
	}
	payload := map[string]any{
		"touser":  userID,
		"msgtype": "text",
		"agentid": e.settings.AgentID,
		"text":    map[string]string{"content": content},
		"safe":    0,
	}
	result, err := e.postJSON(ctx, "/cgi-bin/message/send?access_token="+url.QueryEscape(token), payload)
	if err != nil {
		return err
	}
	if result.ErrCode != 0 {
		// 40014/42001: token invalid or expired, drop it so the next call
		// fetches a fresh one
		if result.ErrCode == 40014 || result.ErrCode == 42001 {
			e.tokens.Invalidate(ctx, e.tokenKey())
		}
		return plugin.NewError(plugin.ErrInvokeError,
			fmt.Sprintf("message/send failed (%d): %s", result.ErrCode, result.ErrMsg)).WithProvider("wecom")
	}
	return nil
}

func (e *Endpoint) tokenKey() string {
	return "wecom:" + e.settings.CorpID + ":" + e.settings.AgentID
}

// accessToken returns a cached application access token, exchanging the corp
// credentials when the cache misses.
func (e *Endpoint) accessToken(ctx context.Context) (string, error) {
	return e.tokens.Get(ctx, e.tokenKey(), func(ctx context.Context) (string, time.Duration, error) {
		target := fmt.Sprintf("%s/cgi-bin/gettoken?corpid=%s&corpsecret=%s",
			e.base(), url.QueryEscape(e.settings.CorpID), url.QueryEscape(e.settings.AgentSecret))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return "", 0, err
		}
		resp, err := e.http.Do(req)
		if err != nil {
			return "", 0, plugin.NewError(plugin.ErrServerUnavailable,
				"gettoken request failed").WithCause(err).WithProvider("wecom")
		}
		defer resp.Body.Close()

		var result apiResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return "", 0, plugin.NewError(plugin.ErrServerUnavailable,
				"invalid gettoken response").WithCause(err).WithProvider("wecom")
		}
		if result.ErrCode != 0 || result.AccessToken == "" {
			return "", 0, plugin.NewError(plugin.ErrCredentialsInvalid,
				fmt.Sprintf("gettoken failed (%d): %s", result.ErrCode, result.ErrMsg)).WithProvider("wecom")
		}
		expiresIn := time.Duration(result.ExpiresIn) * time.Second
		if expiresIn <= 0 {
			expiresIn = 2 * time.Hour
		}
		return result.AccessToken, expiresIn, nil
	})
}

func (e *Endpoint) postJSON(ctx context.Context, path string, payload any) (apiResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return apiResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.base()+path, bytes.NewReader(body))
	if err != nil {
		return apiResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return apiResult{}, plugin.NewError(plugin.ErrServerUnavailable,
			"request failed").WithCause(err).WithProvider("wecom")
	}
	defer resp.Body.Close()

	var result apiResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return apiResult{}, plugin.NewError(plugin.ErrServerUnavailable,
			"invalid response").WithCause(err).WithProvider("wecom")
	}
	return result, nil
}
