package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"tripwise.org/internal/audit"
	"tripwise.org/internal/auth"
	"tripwise.org/internal/booking"
	"tripwise.org/internal/obs"
	"tripwise.org/internal/policy"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(w, r, dst)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeServiceError maps domain errors onto status codes. Authorization
// failures are logged in full but answered with a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var blocked *booking.PolicyBlockedError
	switch {
	case errors.As(err, &blocked):
		payload := map[string]any{
			"error":      "booking blocked by policy",
			"violations": policy.Reasons(blocked.Violations),
		}
		if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusUnprocessableEntity, payload)
	case errors.Is(err, booking.ErrPolicyBlocked):
		writeError(w, r, http.StatusUnprocessableEntity, "booking blocked by policy")
	case errors.Is(err, auth.ErrDirectoryUnavailable):
		logFailure(r, "directory_unavailable", err)
		writeError(w, r, http.StatusServiceUnavailable, "directory unavailable")
	case errors.Is(err, auth.ErrForbidden):
		logFailure(r, "forbidden", err)
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, booking.ErrInvalidState):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, booking.ErrNoApprover):
		logFailure(r, "no_approver", err)
		writeError(w, r, http.StatusInternalServerError, "booking requires operator attention: no approver configured")
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrInvalidInput), errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		logFailure(r, "internal_error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func logFailure(r *http.Request, msg string, err error) {
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	if actor, ok := auth.ActorIDFromContext(r.Context()); ok {
		fields = append(fields, zap.String("principal_id", actor))
	}
	obs.Logger().Warn(msg, fields...)
}
