package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is returned by every Client call that fails.
type Error struct {
	Op      string
	Status  int    // HTTP status, 0 when no response was received
	Message string // backend message when it sent one
	// Transient marks failures worth retrying later: network errors,
	// timeouts, 408/425/429 and 5xx. Everything else is permanent.
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("api ")
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil && e.Message != e.Err.Error() {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is an *Error marked transient.
func IsTransient(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Transient
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

func transientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

func transportError(op string, err error) *Error {
	// A caller that gave up is not a backend problem.
	transient := !errors.Is(err, context.Canceled)
	return &Error{Op: op, Transient: transient, Err: err}
}

// remoteMessage pulls a human message out of an error body.
func remoteMessage(body []byte, fallback string) string {
	var m struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &m) == nil {
		if m.Message != "" {
			return m.Message
		}
		if m.Error != "" {
			return m.Error
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" && len(s) <= 200 && !strings.HasPrefix(s, "<") {
		return s
	}
	return fallback
}
