package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"envelope.lock/config"
	"envelope.lock/internal/engine"
	"envelope.lock/internal/hashlock"
	"envelope.lock/internal/ledger"
	"envelope.lock/internal/models"
	"envelope.lock/internal/relay"
	"envelope.lock/internal/store"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	engine *engine.Engine
	relay  *relay.Relay
	config *config.Config
}

func NewHandler(eng *engine.Engine, rel *relay.Relay, cfg *config.Config) *Handler {
	return &Handler{
		engine: eng,
		relay:  rel,
		config: cfg,
	}
}

type CreateRequest struct {
	Owner       string `json:"owner"`
	Beneficiary string `json:"beneficiary"`
	Amount      uint64 `json:"amount"`
	SecretHash  string `json:"secret_hash"` // hex, 32 bytes
	UnlockTime  int64  `json:"unlock_time"` // unix seconds
	ExpiryTime  int64  `json:"expiry_time"` // unix seconds
}

type CreateResponse struct {
	ID     uint64        `json:"id"`
	Status models.Status `json:"status"`
}

type ClaimRequest struct {
	Caller string `json:"caller"`
	Secret string `json:"secret"`
}

type ReclaimRequest struct {
	Caller string `json:"caller"`
}

type EnvelopeResponse struct {
	ID          uint64        `json:"id"`
	Owner       string        `json:"owner"`
	Beneficiary string        `json:"beneficiary"`
	Amount      uint64        `json:"amount"`
	SecretHash  string        `json:"secret_hash"`
	UnlockTime  int64         `json:"unlock_time"`
	ExpiryTime  int64         `json:"expiry_time"`
	Status      models.Status `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

type NextIDResponse struct {
	NextID uint64 `json:"next_id"`
}

type BalanceResponse struct {
	Account string `json:"account"`
	Balance uint64 `json:"balance"`
}

type SubmitRequest struct {
	Kind   string `json:"kind"` // create_envelope | claim | reclaim
	Caller string `json:"caller"`

	Beneficiary string `json:"beneficiary,omitempty"`
	Amount      uint64 `json:"amount,omitempty"`
	SecretHash  string `json:"secret_hash,omitempty"`
	UnlockTime  int64  `json:"unlock_time,omitempty"`
	ExpiryTime  int64  `json:"expiry_time,omitempty"`

	EnvelopeID uint64 `json:"envelope_id,omitempty"`
	Secret     string `json:"secret,omitempty"`
}

type SubmitResponse struct {
	Handle string `json:"handle"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type HealthResponse struct {
	Status            string `json:"status"`
	Store             string `json:"store"`
	SubmissionTimeout int64  `json:"submission_timeout_seconds"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, HealthResponse{
		Status:            "ok",
		Store:             h.config.Store.Type,
		SubmissionTimeout: int64(h.config.Protocol.SubmissionTimeout / time.Second),
	})
}

func (h *Handler) CreateEnvelope(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if req.Owner == "" || req.Beneficiary == "" {
		h.error(w, http.StatusBadRequest, "missing_identity", "owner and beneficiary are required")
		return
	}

	hash, err := hashlock.DecodeDigest(req.SecretHash)
	if err != nil {
		h.error(w, http.StatusBadRequest, "invalid_hash_lock", err.Error())
		return
	}

	id, err := h.engine.CreateEnvelope(r.Context(), engine.CreateRequest{
		Owner:       req.Owner,
		Beneficiary: req.Beneficiary,
		Amount:      req.Amount,
		SecretHash:  hash,
		UnlockTime:  time.Unix(req.UnlockTime, 0),
		ExpiryTime:  time.Unix(req.ExpiryTime, 0),
	})
	if err != nil {
		h.handleEngineError(w, err)
		return
	}

	h.json(w, http.StatusCreated, CreateResponse{ID: id, Status: models.StatusLocked})
}

func (h *Handler) ClaimEnvelope(w http.ResponseWriter, r *http.Request) {
	id, ok := h.envelopeID(w, r)
	if !ok {
		return
	}

	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if req.Caller == "" {
		h.error(w, http.StatusBadRequest, "missing_identity", "caller is required")
		return
	}

	if err := h.engine.Claim(r.Context(), id, []byte(req.Secret), req.Caller); err != nil {
		h.handleEngineError(w, err)
		return
	}

	h.json(w, http.StatusOK, map[string]string{"status": string(models.StatusClaimed)})
}

func (h *Handler) ReclaimEnvelope(w http.ResponseWriter, r *http.Request) {
	id, ok := h.envelopeID(w, r)
	if !ok {
		return
	}

	var req ReclaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if req.Caller == "" {
		h.error(w, http.StatusBadRequest, "missing_identity", "caller is required")
		return
	}

	if err := h.engine.Reclaim(r.Context(), id, req.Caller); err != nil {
		h.handleEngineError(w, err)
		return
	}

	h.json(w, http.StatusOK, map[string]string{"status": string(models.StatusReclaimed)})
}

func (h *Handler) GetEnvelope(w http.ResponseWriter, r *http.Request) {
	id, ok := h.envelopeID(w, r)
	if !ok {
		return
	}

	env, err := h.engine.GetEnvelope(r.Context(), id)
	if err != nil {
		h.handleEngineError(w, err)
		return
	}

	h.json(w, http.StatusOK, envelopeResponse(env))
}

func (h *Handler) ListEnvelopes(w http.ResponseWriter, r *http.Request) {
	filter := store.Filter{
		Owner:       r.URL.Query().Get("owner"),
		Beneficiary: r.URL.Query().Get("beneficiary"),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := models.Status(s)
		if !status.Valid() {
			h.error(w, http.StatusBadRequest, "invalid_status", "unknown status filter")
			return
		}
		filter.Status = status
	}

	envelopes, err := h.engine.ListEnvelopes(r.Context(), filter)
	if err != nil {
		h.handleEngineError(w, err)
		return
	}

	result := make([]EnvelopeResponse, 0, len(envelopes))
	for _, env := range envelopes {
		result = append(result, envelopeResponse(env))
	}
	h.json(w, http.StatusOK, result)
}

func (h *Handler) NextID(w http.ResponseWriter, r *http.Request) {
	next, err := h.engine.NextID(r.Context())
	if err != nil {
		h.handleEngineError(w, err)
		return
	}
	h.json(w, http.StatusOK, NextIDResponse{NextID: next})
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "id")
	h.json(w, http.StatusOK, BalanceResponse{
		Account: account,
		Balance: h.engine.Balance(account),
	})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if req.Caller == "" {
		h.error(w, http.StatusBadRequest, "missing_identity", "caller is required")
		return
	}

	submission := relay.Request{
		Kind:        relay.Kind(req.Kind),
		Caller:      req.Caller,
		Beneficiary: req.Beneficiary,
		Amount:      req.Amount,
		UnlockTime:  time.Unix(req.UnlockTime, 0),
		ExpiryTime:  time.Unix(req.ExpiryTime, 0),
		EnvelopeID:  req.EnvelopeID,
		Secret:      []byte(req.Secret),
	}

	switch submission.Kind {
	case relay.KindCreate:
		hash, err := hashlock.DecodeDigest(req.SecretHash)
		if err != nil {
			h.error(w, http.StatusBadRequest, "invalid_hash_lock", err.Error())
			return
		}
		submission.SecretHash = hash
	case relay.KindClaim, relay.KindReclaim:
	default:
		h.error(w, http.StatusBadRequest, "invalid_kind", "kind must be create_envelope, claim or reclaim")
		return
	}

	handle, err := h.relay.Submit(submission)
	if err != nil {
		if errors.Is(err, relay.ErrBusy) {
			h.error(w, http.StatusServiceUnavailable, "busy", "submission queue full, retry later")
			return
		}
		h.error(w, http.StatusServiceUnavailable, "closed", "service shutting down")
		return
	}

	h.json(w, http.StatusAccepted, SubmitResponse{Handle: handle})
}

// PollSubmission reports the current outcome of a submission. With ?wait=1
// it blocks up to the configured submission timeout; a still-pending result
// means the outcome is unknown, not failed.
func (h *Handler) PollSubmission(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")

	var (
		result relay.Result
		err    error
	)
	if wait := r.URL.Query().Get("wait"); wait == "1" || wait == "true" {
		result, err = h.relay.Wait(r.Context(), handle)
	} else {
		result, err = h.relay.Poll(handle)
	}
	if err != nil {
		if errors.Is(err, relay.ErrUnknownHandle) {
			h.error(w, http.StatusNotFound, "unknown_handle", "unknown submission handle")
			return
		}
		h.error(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	h.json(w, http.StatusOK, result)
}

// Helpers

func envelopeResponse(env *models.Envelope) EnvelopeResponse {
	return EnvelopeResponse{
		ID:          env.ID,
		Owner:       env.Owner,
		Beneficiary: env.Beneficiary,
		Amount:      env.Amount,
		SecretHash:  hashlock.EncodeDigest(env.SecretHash),
		UnlockTime:  env.UnlockTime.Unix(),
		ExpiryTime:  env.ExpiryTime.Unix(),
		Status:      env.Status,
		CreatedAt:   env.CreatedAt,
	}
}

func (h *Handler) envelopeID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.error(w, http.StatusBadRequest, "invalid_id", "envelope id must be an unsigned integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) json(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) error(w http.ResponseWriter, status int, code, message string) {
	h.json(w, status, ErrorResponse{Error: message, Code: code})
}

// handleEngineError maps every protocol failure kind to its own status and
// machine-readable code; nothing is collapsed into a catch-all.
func (h *Handler) handleEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidAmount):
		h.error(w, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.Is(err, engine.ErrInvalidTiming):
		h.error(w, http.StatusBadRequest, "invalid_timing", err.Error())
	case errors.Is(err, engine.ErrInvalidHashLock):
		h.error(w, http.StatusBadRequest, "invalid_hash_lock", err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		h.error(w, http.StatusPaymentRequired, "insufficient_funds", err.Error())
	case errors.Is(err, store.ErrNotFound):
		h.error(w, http.StatusNotFound, "not_found", "envelope not found")
	case errors.Is(err, engine.ErrAlreadyFinalized):
		h.error(w, http.StatusConflict, "already_finalized", err.Error())
	case errors.Is(err, engine.ErrUnauthorized):
		h.error(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, engine.ErrNotYetUnlocked):
		h.error(w, http.StatusConflict, "not_yet_unlocked", err.Error())
	case errors.Is(err, engine.ErrExpired):
		h.error(w, http.StatusConflict, "expired", err.Error())
	case errors.Is(err, engine.ErrInvalidSecret):
		h.error(w, http.StatusForbidden, "invalid_secret", err.Error())
	case errors.Is(err, engine.ErrNotYetExpired):
		h.error(w, http.StatusConflict, "not_yet_expired", err.Error())
	case errors.Is(err, store.ErrCapacity):
		h.error(w, http.StatusInsufficientStorage, "capacity_exceeded", err.Error())
	default:
		h.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
