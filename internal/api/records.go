package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/storage/mysql"
	"TravelAgent-Chain/internal/task"
	"TravelAgent-Chain/internal/travel"
	"TravelAgent-Chain/pkg/logger"
)

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req travel.PlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, "Invalid plan request.", err)
		return
	}
	plan, warnings, err := s.deps.Plans.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, "Failed to create plan.", err)
		return
	}
	env := success(plan)
	env.Warnings = warnings
	writeJSON(w, http.StatusCreated, env)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.deps.Plans.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "Plan not found.", err)
		return
	}
	writeJSON(w, http.StatusOK, success(plan))
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		s.writeError(w, r, "Invalid limit.", err)
		return
	}
	plans, err := s.deps.Plans.ListByWallet(r.Context(), r.URL.Query().Get("wallet"), limit)
	if err != nil {
		s.writeError(w, r, "Failed to list plans.", err)
		return
	}
	writeJSON(w, http.StatusOK, success(plans))
}

func (s *Server) handleUpdatePlanStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, "Invalid status request.", err)
		return
	}
	plan, err := s.deps.Plans.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.writeError(w, r, "Failed to update plan.", err)
		return
	}
	writeJSON(w, http.StatusOK, success(plan))
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req travel.BookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, "Invalid booking request.", err)
		return
	}
	booking, err := s.deps.Bookings.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, "Failed to create booking.", err)
		return
	}
	logger.AuditEvent(r.Context(), "booking_created",
		slog.String("booking_id", booking.ID),
		slog.String("flight_id", booking.FlightID),
		slog.Float64("amount", booking.PaymentAmount),
	)
	writeJSON(w, http.StatusCreated, success(booking))
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := s.deps.Bookings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "Booking not found.", err)
		return
	}
	writeJSON(w, http.StatusOK, success(booking))
}

func (s *Server) handleUpdateBookingStatus(w http.ResponseWriter, r *http.Request) {
	var update mysql.BookingUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		s.writeError(w, r, "Invalid status request.", err)
		return
	}
	booking, err := s.deps.Bookings.Update(r.Context(), chi.URLParam(r, "id"), update)
	if err != nil {
		s.writeError(w, r, "Failed to update booking.", err)
		return
	}
	writeJSON(w, http.StatusOK, success(booking))
}

// submitRunRequest 与 /agent 一样兼容 user_input。
type submitRunRequest struct {
	task.SubmitRequest
	UserInput string `json:"user_input"`
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.writeRunsDisabled(w)
		return
	}
	var req submitRunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, "Invalid run request.", err)
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		req.Input = req.UserInput
	}
	run, err := s.deps.Runs.Submit(r.Context(), req.SubmitRequest)
	if err != nil {
		s.writeError(w, r, "Failed to submit run.", err)
		return
	}
	writeJSON(w, http.StatusAccepted, success(run))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.writeRunsDisabled(w)
		return
	}
	run, err := s.deps.Runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "Run not found.", err)
		return
	}
	writeJSON(w, http.StatusOK, success(run))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.writeRunsDisabled(w)
		return
	}
	limit, err := queryInt(r, "limit", task.DefaultListLimit)
	if err != nil {
		s.writeError(w, r, "Invalid limit.", err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, r, "Invalid offset.", err)
		return
	}
	opts := []task.ListOption{task.WithLimit(limit), task.WithOffset(offset)}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		statuses := make([]task.Status, 0)
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.ToLower(strings.TrimSpace(part)))
			if !task.IsValidStatus(status) {
				s.writeError(w, r, "Invalid status filter.", xerrors.New(xerrors.CodeInvalidArgument, "unknown run status "+string(status)))
				return
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if referrer := strings.TrimSpace(r.URL.Query().Get("referrer")); referrer != "" {
		opts = append(opts, task.WithReferrer(referrer))
	}

	runs, err := s.deps.Runs.List(r.Context(), opts...)
	if err != nil {
		s.writeError(w, r, "Failed to list runs.", err)
		return
	}
	stats, err := s.deps.Runs.Stats(r.Context(), opts...)
	if err != nil {
		s.writeError(w, r, "Failed to list runs.", err)
		return
	}
	env := success(runs)
	env.Data = stats
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) writeRunsDisabled(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, envelope{
		Status:   "error",
		Response: "Asynchronous runs are not enabled.",
		Error:    "run service not configured",
	})
}
