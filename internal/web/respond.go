package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"weekcal/internal/api"
	appLog "weekcal/internal/log"
	"weekcal/internal/validate"
)

const maxRequestBody = 16 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errorResponse struct {
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
	// UpstreamStatus is the backend's status when it differs from ours.
	UpstreamStatus int `json:"upstreamStatus,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeValidation(w http.ResponseWriter, fe validate.FieldErrors) {
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "validation failed", Fields: fe})
}

// writeFailure maps an operation error to a response:
// validation 422, transient backend failures 503 (retryable), backend 4xx
// passed through, other backend failures 502, anything else 500. Backend
// 401/403 become 502 so they are not mistaken for this server's Basic Auth.
func writeFailure(w http.ResponseWriter, op string, err error) {
	var fe validate.FieldErrors
	if errors.As(err, &fe) {
		writeValidation(w, fe)
		return
	}
	var ae *api.Error
	if errors.As(err, &ae) {
		appLog.Error("backend call failed", err, "op", op, "status", ae.Status, "transient", ae.Transient)
		resp := errorResponse{Error: ae.Error(), Retryable: ae.Transient}
		switch {
		case ae.Transient:
			writeJSON(w, http.StatusServiceUnavailable, resp)
		case ae.Status == http.StatusUnauthorized || ae.Status == http.StatusForbidden:
			resp.UpstreamStatus = ae.Status
			writeJSON(w, http.StatusBadGateway, resp)
		case ae.Status >= 400 && ae.Status < 500:
			writeJSON(w, ae.Status, resp)
		default:
			writeJSON(w, http.StatusBadGateway, resp)
		}
		return
	}
	appLog.Error("request failed", err, "op", op)
	writeError(w, http.StatusInternalServerError, err.Error())
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
