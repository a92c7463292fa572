package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/splitify/splitify/internal/policy"
	"github.com/splitify/splitify/internal/store"
)

// Response messages shared by every resource.
const (
	msgRequired       = "This field is required."
	msgBlank          = "This field may not be blank."
	msgNotString      = "Not a valid string."
	msgNotFound       = "Not found."
	msgForbidden      = "You do not have permission to perform this action."
	msgInvalidPage    = "Invalid page."
	msgInvalidImage   = "Upload a valid image. The file you uploaded was either not an image or a corrupted image."
	msgNotAuthed      = "Authentication credentials were not provided."
	msgInvalidToken   = "Given token not valid for any token type"
	msgMalformedBody  = "Malformed request body."
	msgNonFieldErrors = "non_field_errors"
)

// fieldErrors collects validation messages keyed by field name. It is
// written as the response body as-is.
type fieldErrors map[string][]string

func (fe fieldErrors) add(field, msg string) {
	fe[field] = append(fe[field], msg)
}

func (fe fieldErrors) has(field string) bool {
	return len(fe[field]) > 0
}

func (fe fieldErrors) empty() bool {
	return len(fe) == 0
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a {"detail": message} body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}

func writeValidation(w http.ResponseWriter, fe fieldErrors) {
	writeJSON(w, http.StatusBadRequest, fe)
}

// writeStoreError maps store and policy sentinels onto responses. Anything it
// does not recognise is logged and reported as a 500 with a generic message.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, policy.ErrForbidden):
		writeError(w, http.StatusForbidden, msgForbidden)
	case errors.Is(err, store.ErrDuplicateTitle):
		writeValidation(w, fieldErrors{"title": {"A group with this title already exists for this user."}})
	case errors.Is(err, store.ErrDuplicateMembership):
		writeValidation(w, fieldErrors{msgNonFieldErrors: {"The fields user, group must make a unique set."}})
	case errors.Is(err, store.ErrDuplicateCurrencyCode):
		writeValidation(w, fieldErrors{"code": {"currency with this code already exists."}})
	case errors.Is(err, store.ErrCurrencyProtected):
		writeError(w, http.StatusBadRequest, "Cannot delete this currency because it is referenced by existing groups.")
	case errors.Is(err, store.ErrInvalidReference):
		writeValidation(w, fieldErrors{msgNonFieldErrors: {"A referenced object does not exist."}})
	default:
		s.logger.Error("request failed", "action", action, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+action)
	}
}
