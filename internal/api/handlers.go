package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"TravelAgent-Chain/internal/agent"
	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/payment"
	"TravelAgent-Chain/internal/travel"
	"TravelAgent-Chain/pkg/logger"
)

// agentRequest 兼容 input 与 user_input 两种字段。
type agentRequest struct {
	Input       string   `json:"input"`
	UserInput   string   `json:"user_input"`
	Referrer    string   `json:"referrer_wallet"`
	ChatHistory []string `json:"chat_history"`
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, agent.Outcome{
			Status:    "error",
			Response:  agent.NoInputReply,
			Error:     xerrors.MessageOf(err),
			ErrorCode: string(xerrors.CodeOf(err)),
		})
		return
	}
	input := req.Input
	if strings.TrimSpace(input) == "" {
		input = req.UserInput
	}
	outcome := s.deps.Pipeline.Run(r.Context(), agent.Request{
		Input:       input,
		ChatHistory: req.ChatHistory,
		Referrer:    strings.TrimSpace(req.Referrer),
	})
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	env := success(HealthMessage)
	env.Modes = s.deps.Registry.Modes()
	env.Modes["content_storage"] = s.deps.Content.Mode()
	env.Modes["wallet"] = s.deps.Wallet.Mode()
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Wallet.CheckBalance(r.Context())
	if err != nil {
		response := "An error occurred while fetching wallet balance."
		if xerrors.CodeOf(err) == xerrors.CodeTimeout {
			response = payment.TimeoutMessage
		}
		writeJSON(w, http.StatusOK, failure(response, err))
		return
	}
	env := success(report.String())
	env.Data = report
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleIPFSUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Content) == "" {
		writeJSON(w, http.StatusOK, envelope{
			Status:   "error",
			Response: "No content provided for IPFS upload",
			Error:    "Missing content field",
		})
		return
	}
	cid, err := s.deps.Content.Store(r.Context(), map[string]any{"content": req.Content})
	if err != nil {
		s.log.Warn("IPFS 上传失败", slog.Any("error", err))
		writeJSON(w, http.StatusOK, failure("An error occurred while uploading to IPFS.", err))
		return
	}
	logger.AuditEvent(r.Context(), "ipfs_upload", slog.String("cid", cid), slog.String("mode", s.deps.Content.Mode()))
	env := success(travel.UploadMessage(cid))
	env.Data = map[string]string{"ipfs_hash": cid}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleReferrals(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Referrals.FindByWallet(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		writeJSON(w, http.StatusOK, failure("Failed to retrieve referrals.", err))
		return
	}
	writeJSON(w, http.StatusOK, success(records))
}

func (s *Server) handleSpendSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Ledger.Summary(r.Context())
	if err != nil {
		s.writeError(w, r, "Failed to read spend ledger.", err)
		return
	}
	writeJSON(w, http.StatusOK, success(summary))
}

func (s *Server) handleSetCap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cap *float64 `json:"cap"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, "Invalid spend cap request.", err)
		return
	}
	if req.Cap == nil {
		s.writeError(w, r, "Invalid spend cap request.", xerrors.New(xerrors.CodeInvalidArgument, "missing cap field"))
		return
	}
	if err := s.deps.Ledger.SetCap(r.Context(), *req.Cap); err != nil {
		s.writeError(w, r, "Failed to update spend cap.", err)
		return
	}
	logger.AuditEvent(r.Context(), "spend_cap_updated", slog.Float64("cap", *req.Cap))
	summary, err := s.deps.Ledger.Summary(r.Context())
	if err != nil {
		s.writeError(w, r, "Failed to read spend ledger.", err)
		return
	}
	writeJSON(w, http.StatusOK, success(summary))
}

func (s *Server) handleSpendHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.writeError(w, r, "Invalid limit.", err)
		return
	}
	entries, err := s.deps.Ledger.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, "Failed to read spend ledger.", err)
		return
	}
	writeJSON(w, http.StatusOK, success(entries))
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, key+" must be a non-negative integer")
	}
	return v, nil
}
