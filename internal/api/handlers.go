// internal/api/handlers.go
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"play-entitlements/internal/common/auth"
	"play-entitlements/internal/common/errors"
	checkentitlement "play-entitlements/internal/workers/billing/check-entitlement"
	registerpurchase "play-entitlements/internal/workers/billing/register-purchase"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	id, err := s.authn.Authenticate(r.Context(), r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, errors.NewValidationError("request body unreadable: "+err.Error()))
		return
	}
	input, err := registerpurchase.DecodeInput(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if input.UserID != "" {
		if err := auth.Authorize(id, input.UserID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	out, err := s.registrar.Execute(r.Context(), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleNotification answers 204 to acknowledge a push delivery and 500 to
// have the bus redeliver it.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	if s.push != nil {
		token, _ := auth.BearerToken(r)
		if err := s.push.Verify(r.Context(), token); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		// an oversized or truncated delivery will not improve on redelivery
		s.logger.Warn("Dropping unreadable push body", map[string]interface{}{
			"requestId": RequestIDFrom(r.Context()),
			"error":     err.Error(),
		})
		w.WriteHeader(http.StatusNoContent)
		return
	}

	res, err := s.ingester.Execute(r.Context(), body)
	if err != nil {
		s.logger.Warn("Notification not processed, requesting redelivery", map[string]interface{}{
			"requestId": RequestIDFrom(r.Context()),
			"code":      string(errors.CodeOf(err)),
			"error":     err.Error(),
		})
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	s.logger.Debug("Notification acknowledged", map[string]interface{}{
		"requestId": RequestIDFrom(r.Context()),
		"outcome":   res.Outcome,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get(":userId")

	id, err := s.authn.Authenticate(r.Context(), r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := auth.Authorize(id, userID); err != nil {
		s.writeError(w, r, err)
		return
	}

	out, err := s.entitlements.Execute(r.Context(), &checkentitlement.Input{UserID: userID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.readiness))
	status := http.StatusOK
	for name, check := range s.readiness {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": checks,
		"time":   time.Now().Format(time.RFC3339),
	})
}
