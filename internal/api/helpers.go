package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/ameliade/crosspost/internal/auth"
	"github.com/ameliade/crosspost/internal/sites"
)

// WriteJSONResponse encodes the payload into a buffer first so an encoding
// failure never produces a half-written response body. Returns false when
// nothing useful reached the client.
func WriteJSONResponse(w http.ResponseWriter, payload any) bool {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		log.Printf("API: Failed to encode response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("API: Failed to write response: %v", err)
		return false
	}
	return true
}

// ReadJSONBody decodes a JSON request body into dst, writing a 400 on
// malformed input. Returns false when the request was already answered.
func ReadJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// WriteAdapterError translates an adapter failure into an HTTP response:
// bad form input is the client's fault, rejected credentials and duplicate
// identities map to their usual statuses, and anything the remote site did
// wrong is a bad gateway.
func WriteAdapterError(w http.ResponseWriter, err error) {
	var badData *sites.BadDataError
	var siteErr *sites.SiteError
	var httpErr *sites.HTTPError

	switch {
	case errors.As(err, &badData):
		http.Error(w, badData.Error(), http.StatusBadRequest)
	case errors.Is(err, sites.ErrBadCredentials):
		http.Error(w, "The site rejected these credentials", http.StatusUnauthorized)
	case errors.Is(err, sites.ErrAccountExists):
		http.Error(w, "This account is already linked", http.StatusConflict)
	case errors.As(err, &siteErr):
		http.Error(w, siteErr.Message, http.StatusBadGateway)
	case errors.As(err, &httpErr):
		http.Error(w, fmt.Sprintf("The site returned status %d", httpErr.StatusCode), http.StatusBadGateway)
	default:
		log.Printf("API: Adapter call failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// GetSessionFromContext extracts the authenticated session placed in the
// context by auth.RequireSession, writing a 401 when it is absent. This is
// a shared helper used across handlers for consistent error handling.
func GetSessionFromContext(w http.ResponseWriter, r *http.Request) (*auth.Session, bool) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		log.Println("API: No session in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return session, true
}
