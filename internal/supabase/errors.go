package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// PostgREST and Postgres error codes the gateway reacts to.
const (
	CodeUndefinedTable  = "42P01"
	CodeNoRows          = "PGRST116"
	CodeUniqueViolation = "23505"
)

// APIError is a non-2xx answer from any Supabase endpoint.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase error %d: %s", e.StatusCode, e.Message)
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var payload struct {
		Code             json.RawMessage `json:"code"`
		ErrorCode        string          `json:"error_code"`
		Message          string          `json:"message"`
		Msg              string          `json:"msg"`
		Error            string          `json:"error"`
		ErrorDescription string          `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		// PostgREST sends a string code, GoTrue a numeric one.
		var code string
		if json.Unmarshal(payload.Code, &code) == nil {
			apiErr.Code = code
		}
		if apiErr.Code == "" {
			apiErr.Code = payload.ErrorCode
		}
		for _, m := range []string{payload.Message, payload.Msg, payload.ErrorDescription, payload.Error} {
			if m != "" {
				apiErr.Message = m
				break
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

func hasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// IsUndefinedTable reports a missing table.
func IsUndefinedTable(err error) bool { return hasCode(err, CodeUndefinedTable) }

// IsNoRows reports that Single() matched nothing.
func IsNoRows(err error) bool { return hasCode(err, CodeNoRows) }

// IsUniqueViolation reports a unique constraint failure.
func IsUniqueViolation(err error) bool { return hasCode(err, CodeUniqueViolation) }

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
