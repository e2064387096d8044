package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robertarktes/bunk-reservations/internal/domain"
	"github.com/robertarktes/bunk-reservations/internal/observability"
	"github.com/robertarktes/bunk-reservations/internal/reservation"
)

// Check is a readiness probe of one dependency.
type Check func(ctx context.Context) error

type Handlers struct {
	svc    *reservation.Service
	logger observability.Logger
	checks map[string]Check
}

func NewHandlers(svc *reservation.Service, logger observability.Logger, checks map[string]Check) *Handlers {
	return &Handlers{svc: svc, logger: logger, checks: checks}
}

type holdResponse struct {
	HoldID           uuid.UUID `json:"hold_id"`
	ReferenceCode    string    `json:"reference_code"`
	RequesterID      string    `json:"requester_id"`
	RoomID           string    `json:"room_id"`
	BunkNumber       int       `json:"bunk_number"`
	Amount           int64     `json:"amount"`
	State            string    `json:"state"`
	PaymentStatus    string    `json:"payment_status"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	CancelReason     string    `json:"cancel_reason,omitempty"`
	CreatedAt        string    `json:"created_at"`
	ExpiresAt        string    `json:"expires_at"`
}

func toHoldResponse(h domain.Hold) holdResponse {
	return holdResponse{
		HoldID:           h.ID,
		ReferenceCode:    h.ReferenceCode,
		RequesterID:      h.RequesterID,
		RoomID:           h.RoomID,
		BunkNumber:       h.BunkNumber,
		Amount:           h.Amount,
		State:            string(h.State),
		PaymentStatus:    string(h.PaymentStatus),
		PaymentReference: h.PaymentReference,
		CancelReason:     h.CancelReason,
		CreatedAt:        h.CreatedAt.Format(time.RFC3339),
		ExpiresAt:        h.ExpiresAt.Format(time.RFC3339),
	}
}

func (h *Handlers) CreateHold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID      string `json:"room_id" validate:"required,max=64"`
		RequesterID string `json:"requester_id" validate:"required,max=128"`
		BunkNumber  int    `json:"bunk_number"`
		Amount      *int64 `json:"amount" validate:"omitempty,gte=0"`
	}
	if !bind(w, r, &req) {
		return
	}

	hold, err := h.svc.ClaimBunk(r.Context(), reservation.ClaimInput{
		RoomID:      req.RoomID,
		RequesterID: req.RequesterID,
		BunkNumber:  req.BunkNumber,
		Amount:      req.Amount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHoldResponse(hold))
}

// PaymentCallback is called by the payment provider. Only successful
// payments confirm a hold; anything else is acknowledged and ignored, and
// the hold lapses at the end of its window.
func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HoldID           uuid.UUID `json:"hold_id"`
		ReferenceCode    string    `json:"reference_code" validate:"omitempty,len=12,numeric"`
		PaymentReference string    `json:"payment_reference" validate:"required,max=128"`
		Status           string    `json:"status" validate:"max=32"`
	}
	if !bind(w, r, &req) {
		return
	}
	if req.Status != "" && req.Status != "SUCCEEDED" {
		h.log(r).WithField("hold_id", req.HoldID).WithField("status", req.Status).Info("ignoring unsuccessful payment")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}

	hold, err := h.svc.ConfirmPayment(r.Context(), reservation.ConfirmInput{
		HoldID:           req.HoldID,
		ReferenceCode:    req.ReferenceCode,
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHoldResponse(hold))
}

func (h *Handlers) CancelHold(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Reason string `json:"reason" validate:"max=500"`
	}
	if r.ContentLength != 0 && !bind(w, r, &req) {
		return
	}

	hold, err := h.svc.CancelHold(r.Context(), reservation.CancelInput{HoldID: id, Reason: req.Reason})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHoldResponse(hold))
}

func (h *Handlers) GetHold(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	hold, err := h.svc.GetHold(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHoldResponse(hold))
}

func (h *Handlers) ListHolds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.HoldFilter{
		State:       domain.HoldState(q.Get("state")),
		RoomID:      q.Get("room_id"),
		RequesterID: q.Get("requester_id"),
	}
	if filter.State != "" && !filter.State.Valid() {
		writeError(w, errors.Wrapf(domain.ErrInvalidInput, "unknown state %q", filter.State))
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, errors.Wrapf(domain.ErrInvalidInput, "invalid limit %q", v))
			return
		}
		filter.Limit = n
	}

	holds, err := h.svc.ListHolds(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]holdResponse, 0, len(holds))
	for _, hold := range holds {
		resp = append(resp, toHoldResponse(hold))
	}
	writeJSON(w, http.StatusOK, resp)
}

type roomResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Hostel      string `json:"hostel"`
	Type        string `json:"type"`
	Gender      string `json:"gender"`
	Price       int64  `json:"price"`
	Capacity    int    `json:"capacity"`
	Available   int    `json:"available"`
	Description string `json:"description,omitempty"`
}

func (h *Handlers) ListRooms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.RoomFilter{
		Gender: q.Get("gender"),
		Hostel: q.Get("hostel"),
		Type:   q.Get("type"),
	}
	onlyAvailable := q.Get("available") == "true"

	listings, err := h.svc.ListRooms(r.Context(), filter, onlyAvailable)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]roomResponse, 0, len(listings))
	for _, l := range listings {
		resp = append(resp, roomResponse{
			ID:          l.Room.ID,
			Name:        l.Room.Name,
			Hostel:      l.Room.Hostel,
			Type:        l.Room.Type,
			Gender:      l.Room.Gender,
			Price:       l.Room.Price,
			Capacity:    l.Room.Capacity,
			Available:   l.Available,
			Description: l.Room.Description,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type bunkResponse struct {
	BunkNumber int        `json:"bunk_number"`
	Occupied   bool       `json:"occupied"`
	State      string     `json:"state,omitempty"`
	HoldID     *uuid.UUID `json:"hold_id,omitempty"`
	ExpiresAt  *string    `json:"expires_at,omitempty"`
}

func (h *Handlers) RoomOccupancy(w http.ResponseWriter, r *http.Request) {
	bunks, err := h.svc.RoomOccupancy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]bunkResponse, 0, len(bunks))
	for _, b := range bunks {
		br := bunkResponse{BunkNumber: b.BunkNumber, Occupied: b.Occupied, State: string(b.State), HoldID: b.HoldID}
		if b.ExpiresAt != nil {
			s := b.ExpiresAt.Format(time.RFC3339)
			br.ExpiresAt = &s
		}
		resp = append(resp, br)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readyz reports ready only when every dependency answers.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log(r).WithField("dependency", name).WithError(err).Warn("readiness check failed")
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, failed)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// bind decodes the JSON body into v and validates it, writing the error
// response itself when either step fails.
func bind(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadBody(w, err)
		return false
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			err = errors.Newf("%s failed on %q", fe.Field(), fe.Tag())
		}
		writeError(w, errors.Mark(err, domain.ErrInvalidInput))
		return false
	}
	return true
}

func (h *Handlers) log(r *http.Request) observability.Logger {
	if l, ok := LoggerFrom(r.Context()); ok {
		return l
	}
	return h.logger
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrInvalidInput, "invalid %s", name)
	}
	return id, nil
}
