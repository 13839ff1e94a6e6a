package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/manash/jewelshoot/internal/auth"
	"github.com/manash/jewelshoot/internal/gallery"
	"github.com/manash/jewelshoot/internal/provider"
	"github.com/manash/jewelshoot/internal/studio"
	"github.com/manash/jewelshoot/internal/usage"
	"github.com/manash/jewelshoot/pkg/models"
)

type errorResponse struct {
	Error       string            `json:"error"`
	PendingAuth bool              `json:"pendingAuth,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, studio.ErrAuthRequired), errors.Is(err, auth.ErrNotSignedIn):
		return http.StatusUnauthorized
	case errors.Is(err, studio.ErrSourceTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, studio.ErrUnsupportedSource):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, studio.ErrNoSourceImage),
		errors.Is(err, models.ErrInvalidImageFormat),
		errors.Is(err, models.ErrNoImageData),
		errors.Is(err, models.ErrEmptyPrompt),
		errors.Is(err, gallery.ErrEmptyName),
		errors.Is(err, gallery.ErrNoImage),
		errors.Is(err, gallery.ErrEmptyMessage),
		errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusBadRequest
	case errors.Is(err, studio.ErrConceptNotFound), errors.Is(err, gallery.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, studio.ErrNoImage), errors.Is(err, studio.ErrBusy), errors.Is(err, studio.ErrSessionReset):
		return http.StatusConflict
	case errors.Is(err, usage.ErrResetNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, provider.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, provider.ErrEmptyPlan),
		errors.Is(err, provider.ErrNoImageInResponse),
		errors.Is(err, provider.ErrPlanningFailed),
		errors.Is(err, provider.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Str("path", r.URL.Path).Msg("request failed")
		resp.Error = http.StatusText(status)
	}
	if errors.Is(err, studio.ErrAuthRequired) {
		resp.PendingAuth = true
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into dst and validates its struct tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "validation failed",
			Details: validationDetails(err),
		})
		return false
	}
	return true
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		details[fe.Field()] = msg
	}
	return details
}

// jsonFieldName makes validation details use the wire names.
func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}
