package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/carebook/libs/httpx"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
)

func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindConflict, model.KindTerminalState:
		return http.StatusConflict
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindUnauthorized:
		// The caller is authenticated by the time a handler runs.
		return http.StatusForbidden
	case model.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the status its kind maps to. Errors without a
// kind are logged and reported as transient.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var me *model.Error
	if !errors.As(err, &me) {
		logger.Error("request failed", "request_id", httpx.RequestIDFromContext(r.Context()), "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, string(model.KindTransient), "temporarily unavailable", true)
		return
	}
	if me.Kind == model.KindTransient {
		logger.Warn("transient failure", "request_id", httpx.RequestIDFromContext(r.Context()), "path", r.URL.Path, "err", err)
	}
	httpx.WriteJSON(w, statusFor(me.Kind), httpx.ErrorBody{Error: httpx.ErrorDetail{
		Kind:      string(me.Kind),
		Message:   me.Message,
		Fields:    me.Fields,
		Retryable: me.Retryable(),
	}})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return model.Validation(map[string]string{"body": "invalid json body"})
	}
	return nil
}
