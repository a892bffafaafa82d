package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"taskdeck/internal/auth"
	"taskdeck/internal/store"
)

type apiKeyRequest struct {
	APIKey string `json:"api_key"`
}

const geminiProvider = "gemini"

func (s *Server) handlePutAPIKey(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var body apiKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	body.APIKey = strings.TrimSpace(body.APIKey)
	if body.APIKey == "" {
		writeError(w, http.StatusUnprocessableEntity, "api_key must not be empty")
		return
	}

	encrypted, err := s.cipher.Encrypt(body.APIKey)
	if err != nil {
		s.log.WithError(err).Error("failed to encrypt api key")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.store.APIKeys().Upsert(r.Context(), user.ID, geminiProvider, encrypted); err != nil {
		s.log.WithError(err).Error("failed to store api key")
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	if err := s.store.APIKeys().Delete(r.Context(), user.ID, geminiProvider); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAPIKeyStatus(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	configured := true
	if _, err := s.store.APIKeys().Get(r.Context(), user.ID, geminiProvider); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			writeStoreError(w, err)
			return
		}
		configured = false
	}

	attempts, max, resetAt := s.keyTests.Status(user.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configured":       configured,
		"tests_used":       attempts,
		"tests_limit":      max,
		"window_resets_at": resetAt.Format(time.RFC3339),
	})
}

// handleTestAPIKey validates the stored key (or one supplied in the body)
// against the Gemini API. Rate-limited per user; a rejected attempt does
// not reach Gemini at all.
func (s *Server) handleTestAPIKey(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	allowed, remaining, resetAt := s.keyTests.Allow(user.ID)
	if !allowed {
		w.Header().Set("Retry-After", resetAt.Format(time.RFC3339))
		writeError(w, http.StatusTooManyRequests, "api key test limit reached, try again later")
		return
	}

	// The body is optional; an empty one means "test the stored key".
	var body apiKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key := strings.TrimSpace(body.APIKey)
	if key == "" {
		encrypted, err := s.store.APIKeys().Get(r.Context(), user.ID, geminiProvider)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnprocessableEntity, "no api key stored and none provided")
				return
			}
			writeStoreError(w, err)
			return
		}
		key, err = s.cipher.Decrypt(encrypted)
		if err != nil {
			s.log.WithError(err).Error("failed to decrypt stored api key")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	valid, detail := s.probeGeminiKey(r, key)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":           valid,
		"detail":          detail,
		"tests_remaining": remaining,
	})
}

// probeGeminiKey makes the cheapest authenticated call the API offers, a
// model listing, and reports whether the key was accepted.
func (s *Server) probeGeminiKey(r *http.Request, key string) (bool, string) {
	url := strings.TrimSuffix(s.cfg.Agent.GeminiBaseURL, "/") + "/models"
	req, err := http.NewRequestWithContext(r.Context(), "GET", url, nil)
	if err != nil {
		return false, "failed to build request"
	}
	req.Header.Set("Authorization", "Bearer "+key)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false, "could not reach the Gemini API"
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, "key accepted"
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, "key rejected by the Gemini API"
	default:
		return false, "unexpected response from the Gemini API"
	}
}
