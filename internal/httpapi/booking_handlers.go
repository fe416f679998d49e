package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"tripwise.org/internal/booking"
	"tripwise.org/internal/policy"
)

// travelDate accepts either a calendar date or an RFC 3339 timestamp.
type travelDate struct {
	time.Time
}

func (d *travelDate) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("invalid date %q", raw)
	}
	d.Time = t.UTC()
	return nil
}

func (d *travelDate) ptr() *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

type createBookingRequest struct {
	TravelerIDs []string        `json:"traveler_ids"`
	TripName    string          `json:"trip_name"`
	Destination string          `json:"destination"`
	TravelClass string          `json:"travel_class"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	StartDate   *travelDate     `json:"start_date"`
	EndDate     *travelDate     `json:"end_date"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type submitResponse struct {
	Booking booking.Booking `json:"booking"`
	Verdict policy.Verdict  `json:"verdict"`
}

func (a *API) createBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	b, err := a.bookings.CreateDraft(r.Context(), principalFrom(r), booking.CreateInput{
		TravelerIDs: req.TravelerIDs,
		TripName:    req.TripName,
		Destination: req.Destination,
		TravelClass: req.TravelClass,
		TotalAmount: req.TotalAmount,
		Currency:    req.Currency,
		StartDate:   req.StartDate.ptr(),
		EndDate:     req.EndDate.ptr(),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/bookings/%s", b.ID))
	writeJSON(w, http.StatusCreated, b)
}

func (a *API) getBooking(w http.ResponseWriter, r *http.Request) {
	b, err := a.bookings.Get(r.Context(), principalFrom(r), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) submitBooking(w http.ResponseWriter, r *http.Request) {
	b, verdict, err := a.bookings.Submit(r.Context(), principalFrom(r), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Booking: b, Verdict: verdict})
}

func (a *API) cancelBooking(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	b, err := a.bookings.Cancel(r.Context(), principalFrom(r), chi.URLParam(r, "bookingID"), strings.TrimSpace(req.Reason))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) bookingHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := a.bookings.History(r.Context(), principalFrom(r), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) approvalInbox(w http.ResponseWriter, r *http.Request) {
	pending, err := a.approvals.Inbox(r.Context(), principalFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": pending})
}

func (a *API) approve(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, true)
}

func (a *API) reject(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, false)
}

func (a *API) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	var req reasonRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	decide := a.approvals.Reject
	if approve {
		decide = a.approvals.Approve
	}
	b, err := decide(r.Context(), principalFrom(r), chi.URLParam(r, "approvalID"), strings.TrimSpace(req.Reason))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
