package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/workmate/internal/capability"
)

// capabilityHandler builds an Operation of kind from the JSON body (writes)
// or query string (reads) and runs it for the caller.
func (s *Server) capabilityHandler(kind capability.Kind, okStatus int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.capabilities == nil {
			respondError(w, http.StatusNotImplemented, "unavailable", "capabilities not configured")
			return
		}

		var op capability.Operation
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			if err := decodeJSON(r, &op); err != nil && !errors.Is(err, errEmptyBody) {
				respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
		} else if err := operationFromQuery(r, &op); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		op.Kind = kind
		if id := chi.URLParam(r, "id"); id != "" {
			op.DocumentID = id
		}

		ident := s.identity(r)
		rec, err := s.capabilities.Execute(r.Context(), ident.UserID, ident.Platform, op)
		if err != nil {
			s.respondServiceError(w, r, err)
			return
		}
		respondJSON(w, okStatus, rec)
	}
}

func operationFromQuery(r *http.Request, op *capability.Operation) error {
	q := r.URL.Query()
	op.Folder = q.Get("folder")
	op.Query = q.Get("query")
	op.Status = q.Get("status")
	op.ListID = q.Get("list_id")
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid limit %q", raw)
		}
		op.Limit = n
	}
	return nil
}
