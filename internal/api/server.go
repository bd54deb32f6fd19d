package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"TravelAgent-Chain/internal/agent"
	"TravelAgent-Chain/internal/config"
	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/ledger"
	"TravelAgent-Chain/internal/observability/metrics"
	"TravelAgent-Chain/internal/observability/tracing"
	"TravelAgent-Chain/internal/payment"
	"TravelAgent-Chain/internal/referral"
	"TravelAgent-Chain/internal/storage/ipfs"
	"TravelAgent-Chain/internal/task"
	"TravelAgent-Chain/internal/tool"
	"TravelAgent-Chain/internal/travel"
	"TravelAgent-Chain/pkg/logger"
)

// HealthMessage 是 /health 的固定回复。
const HealthMessage = "AI Agent Wallet API is running"

// 前端 UI 使用的默认跨域来源。
var defaultOrigins = []string{"http://localhost:8501", "http://localhost:3000", "http://localhost:5173"}

const maxBodyBytes = 1 << 20

// Pipeline 是 /agent 依赖的流水线，*agent.Agent 满足该接口。
type Pipeline interface {
	Run(ctx context.Context, req agent.Request) agent.Outcome
}

// Deps 汇集 HTTP 层调用的服务。Runs 与 Metrics 可以为空。
type Deps struct {
	Pipeline  Pipeline
	Registry  *tool.Registry
	Ledger    ledger.Ledger
	Wallet    *payment.Wallet
	Content   ipfs.Store
	Referrals *referral.Service
	Plans     *travel.Planbook
	Bookings  *travel.Desk
	Runs      *task.Service
	Metrics   *metrics.Metrics
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr            string
	origins         []string
	shutdownTimeout time.Duration
	deps            Deps
	log             *slog.Logger
	handler         http.Handler
}

// NewServer 构造 API 服务实例。
func NewServer(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Pipeline == nil || deps.Registry == nil || deps.Ledger == nil || deps.Wallet == nil ||
		deps.Content == nil || deps.Referrals == nil || deps.Plans == nil || deps.Bookings == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "API 依赖不完整")
	}
	timeout := cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Server{
		addr:            cfg.Address,
		origins:         mergeOrigins(defaultOrigins, cfg.AllowedOrigins),
		shutdownTimeout: timeout,
		deps:            deps,
		log:             logger.Named("api"),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler 返回完整的路由，便于测试直接驱动。
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(tracing.Middleware(routePattern))
	r.Use(s.observe)

	r.Post("/agent", s.handleAgent)
	r.Get("/health", s.handleHealth)
	r.Get("/wallet-balance", s.handleWalletBalance)
	r.Post("/ipfs-upload", s.handleIPFSUpload)
	r.Get("/referrals/{wallet}", s.handleReferrals)

	r.Route("/spend", func(r chi.Router) {
		r.Get("/", s.handleSpendSummary)
		r.Put("/cap", s.handleSetCap)
		r.Get("/transactions", s.handleSpendHistory)
	})
	r.Route("/plans", func(r chi.Router) {
		r.Post("/", s.handleCreatePlan)
		r.Get("/", s.handleListPlans)
		r.Get("/{id}", s.handleGetPlan)
		r.Patch("/{id}/status", s.handleUpdatePlanStatus)
	})
	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", s.handleCreateBooking)
		r.Get("/{id}", s.handleGetBooking)
		r.Patch("/{id}/status", s.handleUpdateBookingStatus)
	})
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.handleSubmitRun)
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
	})
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("HTTP 服务已启动", slog.String("addr", s.addr), slog.Any("origins", s.origins))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("HTTP 服务关闭超时", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// observe 记录每个请求的耗时与状态码。
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		if route == "" {
			route = "unmatched"
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveHTTPRequest(route, r.Method, status, time.Since(started))
		}
		if status >= http.StatusInternalServerError {
			s.log.Error("请求处理失败",
				slog.String("route", route),
				slog.String("method", r.Method),
				slog.Int("status", status),
				slog.String("request_id", chimw.GetReqID(r.Context())),
			)
		}
	})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
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

// envelope 是除 /agent 外所有接口的响应格式。
type envelope struct {
	Status    string            `json:"status"`
	Response  any               `json:"response"`
	Error     string            `json:"error,omitempty"`
	ErrorCode string            `json:"error_code,omitempty"`
	Data      any               `json:"data,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
	Modes     map[string]string `json:"modes,omitempty"`
}

func success(response any) envelope {
	return envelope{Status: "success", Response: response}
}

func failure(response string, err error) envelope {
	env := envelope{Status: "error", Response: response}
	if err != nil {
		env.Error = xerrors.MessageOf(err)
		env.ErrorCode = string(xerrors.CodeOf(err))
	}
	return env
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError 按错误码选择 HTTP 状态码。
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, response string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(response, slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	writeJSON(w, status, failure(response, err))
}

func statusOf(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, task.CodeRunValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeRunNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeRunConflict:
		return http.StatusConflict
	case xerrors.CodeBudgetExceeded:
		return http.StatusPaymentRequired
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeContentStorageFailure, xerrors.CodePaymentFailure, xerrors.CodeLLMFailure:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid JSON body")
	}
	return nil
}

func mergeOrigins(groups ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, group := range groups {
		for _, origin := range group {
			origin = strings.TrimRight(strings.TrimSpace(origin), "/")
			if origin == "" {
				continue
			}
			if _, ok := seen[origin]; ok {
				continue
			}
			seen[origin] = struct{}{}
			out = append(out, origin)
		}
	}
	return out
}
