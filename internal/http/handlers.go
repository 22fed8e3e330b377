package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mongoadapter "github.com/khatteland/gatehouse/internal/adapters/mongo"
	"github.com/khatteland/gatehouse/internal/config"
	"github.com/khatteland/gatehouse/internal/domain"
	"github.com/khatteland/gatehouse/internal/engine"
	"github.com/khatteland/gatehouse/internal/idempotency"
)

type Handlers struct {
	cfg   *config.Config
	eng   *engine.Engine
	idemp *idempotency.Idempotency
	audit *mongoadapter.AuditLogger
}

func NewHandlers(cfg *config.Config, eng *engine.Engine, idemp *idempotency.Idempotency, audit *mongoadapter.AuditLogger) *Handlers {
	return &Handlers{cfg: cfg, eng: eng, idemp: idemp, audit: audit}
}

func writeJSON(w http.ResponseWriter, status int, body any) []byte {
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

// writeDomainError maps infrastructure and precondition failures to HTTP
// codes. Expected decision outcomes never come through here; they are typed
// results rendered by the success path.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrNotAuthorized):
		http.Error(w, "not authorized", http.StatusForbidden)
	case errors.Is(err, domain.ErrStaleState):
		http.Error(w, "admission already in a terminal state", http.StatusConflict)
	case errors.Is(err, domain.ErrWindowClosed):
		http.Error(w, "resource is not open for admission", http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, "invalid input", http.StatusBadRequest)
	case errors.Is(err, domain.ErrSerializationFailure), errors.Is(err, domain.ErrConflict):
		http.Error(w, "conflict, try again", http.StatusConflict)
	default:
		RequestLogger(r.Context()).Error("request failed: ", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handlers) Admit(w http.ResponseWriter, r *http.Request) {
	resourceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid resource id", http.StatusBadRequest)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if cached, err := h.idemp.Get(r.Context(), key); err == nil && cached != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cached.Status)
		w.Write(cached.Result)
		return
	}

	var req struct {
		UserID  uuid.UUID            `json:"user_id"`
		Desired domain.DesiredStatus `json:"desired_status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == uuid.Nil {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Desired == "" {
		req.Desired = domain.DesiredGoing
	}

	result, err := h.eng.Admit(r.Context(), resourceID, req.UserID, req.Desired)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if h.audit != nil {
		h.audit.LogAdmit(r.Context(), req.UserID, resourceID, result)
	}

	resp := map[string]any{
		"status":       result.Outcome,
		"admission_id": result.AdmissionID,
	}
	status := http.StatusCreated
	switch result.Outcome {
	case domain.AdmitConfirmed:
		resp["token"] = result.Token
		resp["ticket_url"] = engine.TicketURL(h.cfg.TicketBaseURL, result.Token)
	case domain.AdmitPendingPayment:
		status = http.StatusAccepted
		resp["payment_reference"] = result.PaymentReference
		if result.RedirectURL != "" {
			resp["redirect_url"] = result.RedirectURL
		}
	case domain.AdmitWaitlisted:
		status = http.StatusAccepted
	case domain.AdmitAlreadyAdmitted:
		status = http.StatusConflict
		resp["current_status"] = result.CurrentStatus
	case domain.AdmitSoldOut:
		status = http.StatusConflict
		delete(resp, "admission_id")
	}

	data := writeJSON(w, status, resp)
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: status, Result: data})
}

func (h *Handlers) ListAdmissions(w http.ResponseWriter, r *http.Request) {
	resourceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid resource id", http.StatusBadRequest)
		return
	}
	summaries, err := h.eng.ListAdmissions(r.Context(), resourceID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"admissions": summaries})
}

func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	admissionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid admission id", http.StatusBadRequest)
		return
	}
	var req struct {
		ActorID uuid.UUID `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.eng.Cancel(r.Context(), admissionID, req.ActorID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if h.audit != nil {
		h.audit.LogRelease(r.Context(), req.ActorID, result.ResourceID, admissionID, false)
	}

	resp := map[string]any{
		"status":        "success",
		"refund_needed": result.RefundNeeded,
	}
	if result.PaymentReference != "" {
		resp["payment_reference"] = result.PaymentReference
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	admissionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid admission id", http.StatusBadRequest)
		return
	}
	var req struct {
		StaffID uuid.UUID `json:"staff_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.eng.Revoke(r.Context(), admissionID, req.StaffID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if h.audit != nil {
		h.audit.LogRelease(r.Context(), req.StaffID, result.ResourceID, admissionID, true)
	}

	resp := map[string]any{
		"status":        "success",
		"refund_needed": result.RefundNeeded,
	}
	if result.PaymentReference != "" {
		resp["payment_reference"] = result.PaymentReference
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference string `json:"reference"`
		PaymentID string `json:"payment_id"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch req.Status {
	case "SUCCEEDED", "CONFIRMED", "completed":
	default:
		// Failure callbacks carry no state change: the pending admission
		// stays held until the sweeper reclaims it.
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	result, err := h.eng.ConfirmPayment(r.Context(), req.Reference, req.PaymentID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       result.Outcome,
		"admission_id": result.AdmissionID,
	})
}

func (h *Handlers) Checkin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token   string    `json:"token"`
		StaffID uuid.UUID `json:"staff_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.eng.Checkin(r.Context(), req.Token, req.StaffID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if h.audit != nil {
		h.audit.LogCheckin(r.Context(), req.StaffID, result.Outcome)
	}

	resp := map[string]any{"status": result.Outcome}
	if result.RedeemedAt != nil {
		resp["redeemed_at"] = result.RedeemedAt.Format(time.RFC3339)
	}
	status := http.StatusOK
	switch result.Outcome {
	case domain.CheckinInvalid:
		status = http.StatusNotFound
	case domain.CheckinNotAuthorized:
		status = http.StatusForbidden
	case domain.CheckinRevoked:
		status = http.StatusGone
	}
	writeJSON(w, status, resp)
}

func (h *Handlers) Sweep(w http.ResponseWriter, r *http.Request) {
	timeout := h.cfg.PaymentTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			http.Error(w, "invalid timeout", http.StatusBadRequest)
			return
		}
		timeout = parsed
	}
	count, err := h.eng.SweepExpired(r.Context(), timeout)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired_count": count})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
