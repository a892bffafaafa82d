package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// bearerToken extracts a Bearer credential from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "Unauthorized",
		"message": message,
	})
}

// SessionMiddleware authenticates end users by session bearer token and
// adds the user to the request context.
func (s *Service) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		user, err := s.ValidateSessionToken(r.Context(), token)
		if err != nil {
			s.log.WithField("path", r.URL.Path).Debug("session token rejected")
			writeUnauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// ServiceMiddleware authenticates trusted services. The caller presents
// the shared service token as a Bearer credential and names the end user
// it acts for in X-User-ID; that user becomes the request identity.
func (s *Service) ServiceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ValidateServiceToken(bearerToken(r)) {
			writeUnauthorized(w, "Invalid service token")
			return
		}
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeUnauthorized(w, "X-User-ID header required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), &User{ID: userID})))
	})
}

// SessionOrServiceMiddleware accepts either credential kind. Service
// calls must carry X-User-ID; session calls resolve the user from the
// token. Lets the backend serve both browsers and the agent on one route.
func (s *Service) SessionOrServiceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if s.ValidateServiceToken(token) {
			userID := r.Header.Get("X-User-ID")
			if userID == "" {
				writeUnauthorized(w, "X-User-ID header required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), &User{ID: userID})))
			return
		}

		user, err := s.ValidateSessionToken(r.Context(), token)
		if err != nil {
			s.log.WithField("path", r.URL.Path).Debug("credentials rejected")
			writeUnauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}
