package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hazelcart/api/internal/services"
)

const (
	// Identity headers are injected by the API gateway after it validates the
	// caller's session. The service trusts them as-is.
	headerUserID    = "X-User-Id"
	headerSessionID = "X-Session-Id"
	headerUserRole  = "X-User-Role"

	roleAdmin = "admin"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

// identity carries the caller identifiers extracted from gateway headers.
type identity struct {
	UserID    string
	SessionID string
	IsAdmin   bool
}

func (id identity) cartOwner() services.CartOwner {
	return services.CartOwner{UserID: id.UserID, SessionID: id.SessionID}
}

func identityFromRequest(r *http.Request) identity {
	return identity{
		UserID:    strings.TrimSpace(r.Header.Get(headerUserID)),
		SessionID: strings.TrimSpace(r.Header.Get(headerSessionID)),
		IsAdmin:   strings.EqualFold(strings.TrimSpace(r.Header.Get(headerUserRole)), roleAdmin),
	}
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return formatTime(*t)
}
