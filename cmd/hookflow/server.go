package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/config"
	"github.com/BaSui01/hookflow/extensions/openaicompat"
	"github.com/BaSui01/hookflow/extensions/slack"
	"github.com/BaSui01/hookflow/extensions/wecom"
	"github.com/BaSui01/hookflow/internal/metrics"
	"github.com/BaSui01/hookflow/internal/server"
	"github.com/BaSui01/hookflow/internal/telemetry"
	"github.com/BaSui01/hookflow/models"
	oaimodel "github.com/BaSui01/hookflow/models/openaicompat"
	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/triggers/airtable"
	"github.com/BaSui01/hookflow/triggers/notion"
	"github.com/BaSui01/hookflow/triggers/twilio"
	"github.com/BaSui01/hookflow/triggers/woocommerce"
	"github.com/BaSui01/hookflow/triggers/zendesk"
)

// =============================================================================
// 🌐 宿主服务器：挂载 trigger 回调路由与扩展端点
// =============================================================================

// Server 本地宿主服务器
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	registry   *plugin.Registry
	subs       *subscriptionStore
	collector  *metrics.Collector
	extensions map[string]http.Handler

	manager        *server.Manager
	metricsManager *server.Manager
	telemetry      *telemetry.Providers
}

// NewServer 组装宿主服务器：注册全部 trigger，挂载启用的扩展端点，
// 构建路由与 HTTP 管理器
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) (*Server, error) {
	collector := metrics.NewCollector("hookflow", logger)
	return newServer(cfg, logger, providers, collector)
}

func newServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers, collector *metrics.Collector) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "host")),
		registry:  buildRegistry(cfg, logger),
		subs:      newSubscriptionStore(cfg.Server.PublicBaseURL),
		collector: collector,
		telemetry: providers,
	}

	var err error
	s.extensions, err = buildExtensions(cfg.Extensions, logger)
	if err != nil {
		return nil, err
	}

	s.manager = server.NewManager(s.router(), server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.metricsManager = server.NewManager(mux, server.Config{
			Addr:            cfg.Server.MetricsAddr,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			IdleTimeout:     cfg.Server.IdleTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, logger.With(zap.String("listener", "metrics")))
	}

	return s, nil
}

// buildRegistry 注册全部内置 trigger
func buildRegistry(cfg *config.Config, logger *zap.Logger) *plugin.Registry {
	registry := plugin.NewRegistry()
	// 实体补全需要订阅级 token，宿主侧不持全局 token，hydrator 留空
	registry.RegisterTrigger("notion", notion.NewTrigger(nil, logger))
	registry.RegisterTrigger("airtable", airtable.NewTrigger(airtable.NewClient(logger), logger))
	registry.RegisterTrigger("zendesk", zendesk.NewTrigger(logger))
	registry.RegisterTrigger("twilio", twilio.NewTrigger(logger))
	registry.RegisterTrigger("woocommerce", woocommerce.NewTrigger(logger))
	return registry
}

// =============================================================================
// 🧩 扩展端点
// =============================================================================

// buildExtensions 按配置实例化扩展端点，返回路由模式 → handler。
// 机器人扩展通过 chatResponder 桥接到上游 OpenAI 兼容模型；
// 未配置上游时机器人仅确认收到，不产生回复。
func buildExtensions(ext config.ExtensionsConfig, logger *zap.Logger) (map[string]http.Handler, error) {
	mounts := make(map[string]http.Handler)

	var model models.ChatModel
	if ext.OpenAICompat.Upstream.BaseURL != "" {
		model = oaimodel.New(ext.OpenAICompat.Upstream.Model, oaimodel.Config{
			BaseURL: ext.OpenAICompat.Upstream.BaseURL,
			APIKey:  ext.OpenAICompat.Upstream.APIKey,
		}, logger)
	}

	if ext.OpenAICompat.Enabled {
		mounts["/v1/chat/completions"] = openaicompat.NewEndpoint(model, ext.OpenAICompat.APIKey, logger)
	}

	if ext.WeCom.Enabled {
		ep, err := wecom.NewEndpoint(wecom.Settings{
			Token:          ext.WeCom.Token,
			EncodingAESKey: ext.WeCom.EncodingAESKey,
			ReceiveID:      ext.WeCom.ReceiveID,
			CorpID:         ext.WeCom.CorpID,
			AgentSecret:    ext.WeCom.AgentSecret,
			AgentID:        ext.WeCom.AgentID,
		}, chatResponder(model), nil, logger)
		if err != nil {
			return nil, err
		}
		mounts["/extensions/wecom"] = ep
	}

	if ext.Slack.Enabled {
		ep, err := slack.NewEndpoint(slack.Settings{
			BotToken:      ext.Slack.BotToken,
			AllowRetry:    ext.Slack.AllowRetry,
			IgnoreUserIDs: ext.Slack.IgnoreUserIDs,
			EventTypes:    ext.Slack.EventTypes,
			ChannelName:   ext.Slack.ChannelName,
		}, chatResponder(model), logger)
		if err != nil {
			return nil, err
		}
		mounts["/extensions/slack"] = ep
	}

	return mounts, nil
}

// chatResponder 将机器人收到的消息转给上游模型，返回模型回复。
// model 为 nil 时返回 nil，端点只确认不回复。
func chatResponder(model models.ChatModel) func(ctx context.Context, userID, content string) (string, error) {
	if model == nil {
		return nil
	}
	return func(ctx context.Context, userID, content string) (string, error) {
		resp, err := model.Chat(ctx, &models.ChatRequest{
			Model:    model.Name(),
			Messages: []models.Message{{Role: models.RoleUser, Content: content}},
		})
		if err != nil {
			return "", err
		}
		return resp.Message.Content, nil
	}
}

// =============================================================================
// 🗺️ 路由
// =============================================================================

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/hooks/{trigger}", s.handleWebhook)

	r.Route("/admin/subscriptions/{trigger}", func(r chi.Router) {
		r.Get("/", s.handleGetSubscription)
		r.Put("/", s.handlePutSubscription)
		r.Delete("/", s.handleDeleteSubscription)
	})

	for pattern, handler := range s.extensions {
		r.Handle(pattern, handler)
		s.logger.Info("extension mounted", zap.String("path", pattern))
	}

	return r
}

// instrument 请求日志与 HTTP 指标
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}
		s.collector.RecordHTTPRequest(r.Method, path, ww.Status(), duration,
			r.ContentLength, int64(ww.BytesWritten()))
		s.logger.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", duration),
		)
	})
}

// =============================================================================
// 🪝 Webhook 分发
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  Version,
		"triggers": s.registry.TriggerNames(),
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "trigger")
	trigger, ok := s.registry.Trigger(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown trigger: " + name})
		return
	}

	start := time.Now()
	dispatch, err := trigger.DispatchEvent(r.Context(), s.subs.get(name), r)
	duration := time.Since(start)
	if err != nil {
		code := plugin.CodeOf(err)
		if code == plugin.ErrSignatureInvalid {
			s.collector.RecordSignatureFailure(name)
		}
		s.collector.RecordWebhookEvent(name, "", "error", duration)
		s.logger.Warn("dispatch failed",
			zap.String("trigger", name),
			zap.String("code", string(code)),
			zap.Error(err),
		)
		writeJSON(w, dispatchStatus(code), map[string]string{"error": err.Error()})
		return
	}

	status := "ignored"
	if len(dispatch.Events) > 0 {
		status = "dispatched"
	}
	for _, event := range dispatch.Events {
		s.collector.RecordWebhookEvent(name, event, status, duration)
	}
	if len(dispatch.Events) == 0 {
		s.collector.RecordWebhookEvent(name, "", status, duration)
	}
	s.logger.Info("webhook dispatched",
		zap.String("trigger", name),
		zap.Strings("events", dispatch.Events),
		zap.String("user_id", dispatch.UserID),
	)

	resp := dispatch.Response
	if resp.Status == 0 {
		resp = plugin.OKJSON()
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	w.Write([]byte(resp.Body))
}

// dispatchStatus 分发错误码对应的 HTTP 状态
func dispatchStatus(code plugin.ErrorCode) int {
	switch code {
	case plugin.ErrSignatureInvalid:
		return http.StatusUnauthorized
	case plugin.ErrBadRequest, plugin.ErrDispatchError:
		return http.StatusBadRequest
	case plugin.ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 📇 订阅管理
// =============================================================================

// subscriptionStore 进程内订阅存储，trigger 名 → 订阅
type subscriptionStore struct {
	mu            sync.RWMutex
	subs          map[string]plugin.Subscription
	publicBaseURL string
}

func newSubscriptionStore(publicBaseURL string) *subscriptionStore {
	return &subscriptionStore{
		subs:          make(map[string]plugin.Subscription),
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
	}
}

// get 返回 trigger 的订阅；未配置时返回仅含回调地址的空订阅，
// 此时签名校验等订阅级行为由各 trigger 自行降级
func (s *subscriptionStore) get(trigger string) plugin.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sub, ok := s.subs[trigger]; ok {
		return sub
	}
	return plugin.Subscription{Endpoint: s.endpoint(trigger), ExpiresAt: -1}
}

func (s *subscriptionStore) put(trigger string, sub plugin.Subscription) plugin.Subscription {
	if sub.Endpoint == "" {
		sub.Endpoint = s.endpoint(trigger)
	}
	s.mu.Lock()
	s.subs[trigger] = sub
	s.mu.Unlock()
	return sub
}

func (s *subscriptionStore) delete(trigger string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[trigger]; !ok {
		return false
	}
	delete(s.subs, trigger)
	return true
}

func (s *subscriptionStore) endpoint(trigger string) string {
	return s.publicBaseURL + "/hooks/" + trigger
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "trigger")
	if _, ok := s.registry.Trigger(name); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown trigger: " + name})
		return
	}
	writeJSON(w, http.StatusOK, s.subs.get(name))
}

func (s *Server) handlePutSubscription(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "trigger")
	if _, ok := s.registry.Trigger(name); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown trigger: " + name})
		return
	}

	var sub plugin.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid subscription body"})
		return
	}
	stored := s.subs.put(name, sub)
	s.logger.Info("subscription stored", zap.String("trigger", name), zap.String("endpoint", stored.Endpoint))
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "trigger")
	if !s.subs.delete(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no subscription for trigger: " + name})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// =============================================================================
// 🚦 生命周期
// =============================================================================

// Start 启动主监听与 metrics 监听（非阻塞）
func (s *Server) Start() error {
	if err := s.manager.Start(); err != nil {
		return err
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Start(); err != nil {
			s.manager.Shutdown(context.Background())
			return err
		}
	}
	s.logger.Info("host started",
		zap.String("addr", s.manager.Addr()),
		zap.Strings("triggers", s.registry.TriggerNames()),
	)
	return nil
}

// WaitForShutdown 阻塞等待退出信号并依次关闭各组件
func (s *Server) WaitForShutdown() {
	s.manager.WaitForShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if s.metricsManager != nil {
		s.metricsManager.Shutdown(ctx)
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}
