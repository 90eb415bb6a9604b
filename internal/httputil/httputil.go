// Package httputil provides JSON response and request helpers for HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	svcerrors "github.com/nysa-labs/nysa-gateway/internal/errors"
	"github.com/nysa-labs/nysa-gateway/internal/logging"
)

// DefaultMaxBodyBytes caps JSON request bodies.
const DefaultMaxBodyBytes = 1 << 20

// =============================================================================
// Responses
// =============================================================================

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("write json response")
	}
}

// WriteErrorMessage writes {"error": message} plus any extra fields.
func WriteErrorMessage(w http.ResponseWriter, status int, message string, extra map[string]interface{}) {
	body := make(map[string]interface{}, len(extra)+1)
	for k, v := range extra {
		body[k] = v
	}
	body["error"] = message
	WriteJSON(w, status, body)
}

// WriteError maps err to a response. ServiceErrors keep their status, message
// and details; anything else becomes a 500 with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if se := svcerrors.GetServiceError(err); se != nil {
		if se.HTTPStatus >= 500 {
			logrus.WithError(err).WithField("trace_id", logging.GetTraceID(r.Context())).Error("request failed")
		}
		WriteErrorMessage(w, se.HTTPStatus, se.Message, se.Details)
		return
	}
	logrus.WithError(err).WithField("trace_id", logging.GetTraceID(r.Context())).Error("unhandled error")
	WriteErrorMessage(w, http.StatusInternalServerError, "Internal server error", nil)
}

func BadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message, nil)
}

func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Not authenticated"
	}
	WriteErrorMessage(w, http.StatusUnauthorized, message, nil)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message, nil)
}

func InternalError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusInternalServerError, message, nil)
}

// =============================================================================
// Requests
// =============================================================================

// DecodeJSON decodes the request body into v. On failure it writes a 400 and
// returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		BadRequest(w, "request body required")
		return false
	}
	body, err := ReadAllStrict(r.Body, DefaultMaxBodyBytes)
	if err != nil {
		BadRequest(w, "request body too large")
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		BadRequest(w, "request body required")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		BadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// RequireUserID returns the authenticated user ID or writes a 401.
func RequireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := logging.GetUserID(r.Context())
	if userID == "" {
		Unauthorized(w, "Not authenticated")
		return "", false
	}
	return userID, true
}

// ErrBodyTooLarge is returned by ReadAllStrict when the limit is exceeded.
var ErrBodyTooLarge = errors.New("body exceeds limit")

// ReadAllWithLimit reads at most limit bytes and reports whether r had more.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// ReadAllStrict reads r and fails if it holds more than limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit)
	}
	return data, nil
}
