package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pharmacart/internal/domain/apperr"
)

// statusOf maps an error to its HTTP status. Illegal transitions on orders
// answer 400 rather than 409.
func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		switch apperr.CodeOf(err) {
		case "already_terminal", "invalid_transition":
			return http.StatusBadRequest
		}
		return http.StatusConflict
	case apperr.KindPayment:
		return http.StatusPaymentRequired
	case apperr.KindDependency:
		return http.StatusServiceUnavailable
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// messageOf returns the client-facing message. Causes of payment and
// server-side failures are logged, not returned.
func messageOf(err error) string {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return "internal server error"
	}
	switch ae.Kind {
	case apperr.KindValidation, apperr.KindNotFound, apperr.KindConflict:
		return err.Error()
	case apperr.KindDependency:
		return "service temporarily unavailable"
	default:
		return ae.Message
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	lg := zctx.From(r.Context())
	switch {
	case status >= http.StatusInternalServerError:
		lg.Error("Request failed", zap.Error(err), zap.Int("status", status))
	case status == http.StatusPaymentRequired:
		lg.Warn("Payment rejected", zap.Error(err))
	default:
		lg.Debug("Request rejected", zap.Error(err), zap.Int("status", status))
	}
	writeStatus(w, status, apperr.CodeOf(err), messageOf(err))
}

func writeStatus(w http.ResponseWriter, status int, code, message string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("error")
	e.Str(code)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()

	writeJSON(w, status, e.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
