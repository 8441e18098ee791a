package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sloppy/hostlink/internal/db"
	"github.com/sloppy/hostlink/internal/discovery"
	"github.com/sloppy/hostlink/internal/linkage"
	"github.com/sloppy/hostlink/internal/validate"
)

type errorBody struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Field   string          `json:"field,omitempty"`
	Fields  validate.Errors `json:"fields,omitempty"`
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.Logger.Warn("encode response", zap.Error(err))
		}
	}
}

// errorResponse maps err to a status code and a JSON body.
func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: "internal", Message: err.Error()}
	var le *linkage.Error
	switch {
	case errors.As(err, &le):
		body.Error = string(le.Kind)
		body.Field = string(le.Field)
		body.Fields = validate.FieldErrors(err)
	case errors.Is(err, db.ErrNotFound), errors.Is(err, discovery.ErrPrototypeNotFound):
		body.Error = "not_found"
	case validate.FieldErrors(err) != nil:
		body.Error = string(linkage.KindInvalidState)
		body.Fields = validate.FieldErrors(err)
	}
	if status == http.StatusInternalServerError {
		s.Logger.Error("request failed", zap.Error(err))
		body.Message = "internal error"
	}
	s.jsonResponse(w, body, status)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.jsonResponse(w, errorBody{Error: "bad_request", Message: err.Error()}, http.StatusBadRequest)
}

// statusFor translates linkage error kinds into HTTP status codes.
func statusFor(err error) int {
	switch linkage.KindOf(err) {
	case linkage.KindHostNotFound, linkage.KindTemplateNotFound, linkage.KindLinkNotFound:
		return http.StatusNotFound
	case linkage.KindAlreadyLinked:
		return http.StatusConflict
	case linkage.KindFieldNotEditable:
		return http.StatusForbidden
	case linkage.KindInvalidState:
		return http.StatusUnprocessableEntity
	}
	switch {
	case errors.Is(err, db.ErrNotFound), errors.Is(err, discovery.ErrPrototypeNotFound):
		return http.StatusNotFound
	case validate.FieldErrors(err) != nil:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
