// internal/api/respond.go
package api

import (
	"encoding/json"
	"net/http"

	"play-entitlements/internal/common/errors"
)

type errorBody struct {
	OK    bool        `json:"ok"`
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      errors.ErrorCode `json:"code"`
	Message   string           `json:"message"`
	Retryable bool             `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {ok:false, error:{code,message,retryable}}.
// Internal details stay in the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	stdErr := errors.AsStandardError(err)
	status := errors.HTTPStatus(stdErr)

	fields := map[string]interface{}{
		"requestId": RequestIDFrom(r.Context()),
		"path":      r.URL.Path,
		"code":      string(stdErr.Code),
		"error":     err.Error(),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields)
	} else {
		s.logger.Warn("request rejected", fields)
	}

	writeJSON(w, status, errorBody{
		Error: errorDetail{
			Code:      stdErr.Code,
			Message:   stdErr.Message,
			Retryable: stdErr.Retryable,
		},
	})
}
