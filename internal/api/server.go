package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"TokenAction-Chain/internal/auth"
	xerrors "TokenAction-Chain/internal/errors"
	"TokenAction-Chain/internal/invocation"
	"TokenAction-Chain/internal/observability/metrics"
	"TokenAction-Chain/internal/web3"
	"TokenAction-Chain/internal/web3/provider"
	"TokenAction-Chain/pkg/logger"
	"TokenAction-Chain/pkg/plugin"
)

const (
	actionsPath = "/api/v1/actions"
	chainsPath  = "/api/v1/chains"
	catalogPath = "/api/v1/catalog"
	tokenPath   = "/api/v1/auth/token"

	maxWait     = 30 * time.Second
	maxBodySize = 1 << 20
)

// ActionCatalog lists the actions the host can dispatch. *plugin.Manager
// satisfies it.
type ActionCatalog interface {
	Actions() []plugin.ActionInfo
}

// ChainDirectory describes configured chains. *provider.Registry satisfies it.
type ChainDirectory interface {
	Describe() []provider.ChainInfo
	Snapshot(ctx context.Context, name string) (web3.ChainSnapshot, error)
}

// Server 负责暴露 REST 接口，供外部提交与查询代币动作。
type Server struct {
	addr        string
	invocations *invocation.Service
	catalog     ActionCatalog
	chains      ChainDirectory
	auth        *auth.Service
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithCatalog 配置动作目录。
func WithCatalog(catalog ActionCatalog) Option {
	return func(s *Server) {
		s.catalog = catalog
	}
}

// WithChains 配置链信息来源。
func WithChains(chains ChainDirectory) Option {
	return func(s *Server) {
		s.chains = chains
	}
}

// WithAuth 启用身份认证，写入动作需要铸币权限。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithMetrics 指定指标集合，默认使用进程级指标。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, invocations *invocation.Service, opts ...Option) *Server {
	s := &Server{addr: addr, invocations: invocations}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.metrics == nil {
		s.metrics = metrics.Default()
	}
	s.logger = logger.Named("api")
	return s
}

// Handler 返回挂载了全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(actionsPath, s.instrument("actions", s.guard(http.HandlerFunc(s.handleActions))))
	mux.Handle(actionsPath+"/", s.instrument("action_detail", s.guard(http.HandlerFunc(s.handleActionDetail))))
	mux.Handle(catalogPath, s.instrument("catalog", http.HandlerFunc(s.handleCatalog)))
	mux.Handle(chainsPath, s.instrument("chains", s.guard(http.HandlerFunc(s.handleChains))))
	mux.Handle(chainsPath+"/", s.instrument("chain_detail", s.guard(http.HandlerFunc(s.handleChainDetail))))
	mux.Handle(tokenPath, s.instrument("auth_token", http.HandlerFunc(s.handleToken)))
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.invocations == nil {
		http.Error(w, "调用服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req invocation.Request
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	info, err := s.invocations.Resolve(req.Action)
	if err != nil {
		s.writeError(w, err)
		return
	}
	perm := auth.PermissionRead
	if info.Needs(plugin.CapabilitySigning) {
		perm = auth.PermissionMint
	}
	if s.auth != nil && (perm == auth.PermissionMint || auth.SubjectFromContext(r.Context()) != nil) {
		subject, err := s.auth.Require(r.Context(), perm)
		if err != nil {
			status := auth.StatusFor(err)
			http.Error(w, http.StatusText(status), status)
			return
		}
		if subject != nil {
			req.User = subject.Username
		}
	}

	inv, err := s.invocations.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Location", actionsPath+"/"+inv.ID)
	writeJSON(w, http.StatusAccepted, inv)
}

type listResponse struct {
	Invocations []*invocation.Invocation `json:"invocations"`
	Stats       invocation.Stats         `json:"stats"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.invocations == nil {
		http.Error(w, "调用服务未初始化", http.StatusServiceUnavailable)
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	items, err := s.invocations.List(r.Context(), opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stats, err := s.invocations.Stats(r.Context(), opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if items == nil {
		items = []*invocation.Invocation{}
	}
	writeJSON(w, http.StatusOK, listResponse{Invocations: items, Stats: stats})
}

func listOptionsFromQuery(r *http.Request) ([]invocation.ListOption, error) {
	query := r.URL.Query()
	var opts []invocation.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, errors.New("limit 参数无效")
		}
		opts = append(opts, invocation.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, errors.New("offset 参数无效")
		}
		opts = append(opts, invocation.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []invocation.Status
		for _, part := range strings.Split(raw, ",") {
			status := invocation.Status(strings.ToLower(strings.TrimSpace(part)))
			if status == "" {
				continue
			}
			if !invocation.IsValidStatus(status) {
				return nil, errors.New("status 参数无效")
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, invocation.WithStatuses(statuses...))
	}
	if raw := query.Get("action"); raw != "" {
		opts = append(opts, invocation.WithAction(raw))
	}
	if raw := query.Get("ambiguous"); raw != "" {
		ambiguous, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("ambiguous 参数无效")
		}
		opts = append(opts, invocation.WithAmbiguous(ambiguous))
	}
	switch strings.ToLower(query.Get("order")) {
	case "", "desc":
	case "asc":
		opts = append(opts, invocation.WithSortOrder(invocation.SortByUpdatedAsc))
	default:
		return nil, errors.New("order 参数无效")
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, invocation.WithQuery(raw))
	}
	return opts, nil
}

// handleActionDetail 返回单个调用，wait 参数可等待其结束。
func (s *Server) handleActionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.invocations == nil {
		http.Error(w, "调用服务未初始化", http.StatusServiceUnavailable)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, actionsPath+"/"), "/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "缺少调用 ID", http.StatusBadRequest)
		return
	}

	wait, err := parseWait(r.URL.Query().Get("wait"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if wait > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		inv, err := s.invocations.WaitUntilCompleted(ctx, id, 0)
		cancel()
		if err == nil {
			writeJSON(w, http.StatusOK, inv)
			return
		}
		if xerrors.CodeOf(err) != xerrors.CodeTimeout {
			s.writeError(w, err)
			return
		}
	}

	inv, err := s.invocations.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	wait, err := time.ParseDuration(raw)
	if err != nil {
		seconds, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return 0, errors.New("wait 参数无效")
		}
		wait = time.Duration(seconds) * time.Second
	}
	if wait < 0 {
		return 0, errors.New("wait 参数无效")
	}
	if wait > maxWait {
		wait = maxWait
	}
	return wait, nil
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	actions := []plugin.ActionInfo{}
	if s.catalog != nil {
		actions = append(actions, s.catalog.Actions()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	chains := []provider.ChainInfo{}
	if s.chains != nil {
		chains = append(chains, s.chains.Describe()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": chains})
}

// handleChainDetail 实时查询链 ID 与最新区块高度。
func (s *Server) handleChainDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.chains == nil {
		http.Error(w, "未配置链信息", http.StatusServiceUnavailable)
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, chainsPath+"/"), "/")
	if name == "" {
		http.Error(w, "缺少链名称", http.StatusBadRequest)
		return
	}
	snapshot, err := s.chains.Snapshot(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.auth == nil || !s.auth.Enabled() {
		http.Error(w, "未启用身份认证", http.StatusNotFound)
		return
	}
	var req auth.TokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	pair, err := s.auth.Authenticate(r.Context(), req)
	if err != nil {
		status := auth.StatusFor(err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// guard 在启用认证时解析可选的 Bearer 令牌，具体权限由处理函数检查。
func (s *Server) guard(next http.Handler) http.Handler {
	if s.auth == nil {
		return next
	}
	return s.auth.Middleware(auth.MiddlewareConfig{
		Optional:   true,
		AuditEvent: "api_access",
		RequiredPermissions: map[string][]string{
			http.MethodGet: {auth.PermissionRead},
		},
	})(next)
}

func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(started))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type errorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败", slog.String("code", string(code)), slog.Any("error", err))
	}
	body := errorBody{Code: string(code), Message: err.Error(), Metadata: xerrors.MetadataOf(err)}
	if e, ok := xerrors.From(err); ok {
		body.Message = e.Message()
		body.Retryable = e.Retryable()
	}
	writeJSON(w, status, body)
}

func statusFor(code xerrors.Code) int {
	switch code {
	case invocation.CodeInvocationNotFound:
		return http.StatusNotFound
	case invocation.CodeInvocationConflict, invocation.CodeInvocationCompleted:
		return http.StatusConflict
	case invocation.CodeInvocationValidation, invocation.CodeInvocationNotApplicable,
		xerrors.CodeInvalidArgument, xerrors.CodeInvalidAddress, xerrors.CodeInvalidAmount:
		return http.StatusBadRequest
	case xerrors.CodeNotConfigured, xerrors.CodeMissingCredential,
		xerrors.CodeQueueFailure, invocation.CodeInvocationPublish:
		return http.StatusServiceUnavailable
	case xerrors.CodeRPCUnavailable, xerrors.CodeDecodeError:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
