package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/thread-engine/internal/middleware"
	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/service"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
)

// ThreadHandler handles the operator thread endpoints.
type ThreadHandler struct {
	threads    *service.ThreadService
	ledger     *service.MessageLedger
	audit      *service.AuditLog
	assignment *service.AssignmentService
	messenger  *service.OperatorMessenger
	processor  InboundProcessor
	logger     *logger.Logger
}

// NewThreadHandler creates a new thread handler.
func NewThreadHandler(
	threads *service.ThreadService,
	ledger *service.MessageLedger,
	audit *service.AuditLog,
	assignment *service.AssignmentService,
	messenger *service.OperatorMessenger,
	processor InboundProcessor,
	log *logger.Logger,
) *ThreadHandler {
	return &ThreadHandler{
		threads:    threads,
		ledger:     ledger,
		audit:      audit,
		assignment: assignment,
		messenger:  messenger,
		processor:  processor,
		logger:     log,
	}
}

// Routes registers the operator endpoints on r.
func (h *ThreadHandler) Routes(r chi.Router) {
	r.Post("/inbound", h.Inbound)
	r.Route("/threads", func(r chi.Router) {
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Get("/messages", h.Messages)
			r.Post("/messages", h.Send)
			r.Get("/audit", h.Audit)
			r.Post("/assign", h.Assign)
			r.Post("/close", h.Close)
			r.Post("/reclassify", h.Reclassify)
		})
	})
}

// AssignRequest is the body of POST /threads/{id}/assign.
type AssignRequest struct {
	AssignTo      string `json:"assign_to,omitempty"`
	OperatorID    string `json:"operator_id,omitempty"`
	OperatorName  string `json:"operator_name,omitempty"`
	OperatorEmail string `json:"operator_email,omitempty"`
}

// ReclassifyRequest is the body of POST /threads/{id}/reclassify.
type ReclassifyRequest struct {
	Category model.Category `json:"category"`
	Severity model.Severity `json:"severity"`
}

// SendMessageRequest is the body of POST /threads/{id}/messages.
type SendMessageRequest struct {
	Body string `json:"body"`
}

// SendMessageResponse reports an operator message and its delivery.
type SendMessageResponse struct {
	Message   *model.Message `json:"message"`
	Delivered bool           `json:"delivered"`
}

// List handles GET /api/v1/threads
func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := model.ThreadFilter{Limit: 100}

	if s := r.URL.Query().Get("status"); s != "" {
		status := model.ThreadStatus(s)
		switch status {
		case model.StatusOpen, model.StatusUrgent, model.StatusClosed:
			filter.Status = status
		default:
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			filter.Limit = parsed
		}
	}

	threads, err := h.threads.List(r.Context(), filter)
	if err != nil {
		h.log(r).Error("failed to list threads", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

// Get handles GET /api/v1/threads/{id}
func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	threadID, ok := threadParam(w, r)
	if !ok {
		return
	}

	thread, err := h.threads.Get(r.Context(), threadID)
	if err != nil {
		h.serviceError(w, r, err, "failed to get thread")
		return
	}

	writeJSON(w, http.StatusOK, thread)
}

// Messages handles GET /api/v1/threads/{id}/messages
func (h *ThreadHandler) Messages(w http.ResponseWriter, r *http.Request) {
	threadID, ok := threadParam(w, r)
	if !ok {
		return
	}

	if _, err := h.threads.Get(r.Context(), threadID); err != nil {
		h.serviceError(w, r, err, "failed to get thread")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	resp, err := h.ledger.List(r.Context(), threadID, limit)
	if err != nil {
		h.log(r).Error("failed to list messages", zap.String("thread_id", threadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Send handles POST /api/v1/threads/{id}/messages
func (h *ThreadHandler) Send(w http.ResponseWriter, r *http.Request) {
	threadID, ok := threadParam(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageBody(req.Body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, delivered, err := h.messenger.Send(r.Context(), threadID, middleware.GetUserID(r.Context()), req.Body)
	if err != nil {
		h.serviceError(w, r, err, "failed to send message")
		return
	}

	writeJSON(w, http.StatusCreated, SendMessageResponse{Message: msg, Delivered: delivered})
}

// Audit handles GET /api/v1/threads/{id}/audit
func (h *ThreadHandler) Audit(w http.ResponseWriter, r *http.Request) {
	threadID, ok := threadParam(w, r)
	if !ok {
		return
	}

	if _, err := h.threads.Get(r.Context(), threadID); err != nil {
		h.serviceError(w, r, err, "failed to get thread")
		return
	}

	trail, err := h.audit.Trail(r.Context(), threadID)
	if err != nil {
		h.log(r).Error("failed to read audit trail", zap.String("thread_id", threadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read audit trail")
		return
	}

	writeJSON(w, http.StatusOK, trail)
}

// Assign handles POST /api/v1/threads/{id}/assign
func (h *ThreadHandler) Assign(w http.ResponseWriter, r *http.Request) {
	threadID, ok := threadParam(w, r)
	if !ok {
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actorID := middleware.GetUserID(r.Context())

	var (
		thread *model.Thread
		err    error
	)
	if req.AssignTo == string(model.AssigneeAI) {
		thread, err = h.assignment.AssignToAI(r.Context(), threadID, actorID)
	} else {
		if err := middleware.ValidateOperatorID(req.OperatorID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		thread, err = h.assignment.AssignToHuman(r.Context(), threadID, model.Operator{
			ID:    req.OperatorID,
			Name:  req.OperatorName,
			Email: req.OperatorEmail,
		}, actorID)
	}
	if err != nil {
		h.serviceError(w, r, err, "failed to assign thread")
		return
	}

	writeJSON(w, http.StatusOK, thread)
}

// Close handles POST /api/v1/threads/{id}/close
func (h *ThreadHandler) Close(w http.ResponseWriter, r *http.Request) {
	threadID, ok := threadParam(w, r)
	if !ok {
		return
	}

	thread, err := h.threads.Close(r.Context(), threadID, middleware.GetUserID(r.Context()))
	if err != nil {
		h.serviceError(w, r, err, "failed to close thread")
		return
	}

	writeJSON(w, http.StatusOK, thread)
}

// Reclassify handles POST /api/v1/threads/{id}/reclassify
func (h *ThreadHandler) Reclassify(w http.ResponseWriter, r *http.Request) {
	threadID, ok := threadParam(w, r)
	if !ok {
		return
	}

	var req ReclassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	thread, err := h.threads.Reclassify(r.Context(), threadID, req.Category, req.Severity, middleware.GetUserID(r.Context()))
	if err != nil {
		h.serviceError(w, r, err, "failed to reclassify thread")
		return
	}

	writeJSON(w, http.StatusOK, thread)
}

// Inbound handles POST /api/v1/inbound
func (h *ThreadHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	var event model.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if event.FromID == "" || event.Body == "" {
		writeError(w, http.StatusBadRequest, "fromId and body are required")
		return
	}

	result, err := h.processor.ProcessInbound(r.Context(), event)
	if err != nil {
		h.log(r).Error("failed to process inbound event", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to process inbound event")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *ThreadHandler) serviceError(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case errors.Is(err, service.ErrThreadNotFound):
		writeError(w, http.StatusNotFound, "thread not found")
	case errors.Is(err, service.ErrThreadClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidOperator), errors.Is(err, service.ErrInvalidClassification):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log(r).Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message)
	}
}

func (h *ThreadHandler) log(r *http.Request) *logger.Logger {
	return h.logger.WithRequest(middleware.GetCorrelationID(r.Context()), middleware.GetUserID(r.Context()))
}

func threadParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	threadID := chi.URLParam(r, "id")
	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return threadID, true
}
