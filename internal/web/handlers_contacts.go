package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/commsync/commsync/internal/contacts"
)

// handleUnmatched returns the contact-resolution queue: every phone seen in
// imported communications that is not yet linked to a contact, with a
// message preview for human judgement.
func (s *Server) handleUnmatched(w http.ResponseWriter, r *http.Request) {
	queue, err := s.workbench.Queue(r.Context())
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"unmatched": queue,
		"count":     len(queue),
	})
}

// handleCreateAndLink creates a contact for the phone and retags its
// communication history.
func (s *Server) handleCreateAndLink(w http.ResponseWriter, r *http.Request) {
	phone, ok := phoneParam(w, r)
	if !ok {
		return
	}

	var body contacts.NewContact
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	contactID, err := s.workbench.CreateAndLink(r.Context(), phone, body)
	if err != nil {
		s.respondResolutionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"contact_id": contactID,
		"phone":      phone,
	})
}

// handleLinkExisting links the phone to an existing contact with the same
// retag effect.
func (s *Server) handleLinkExisting(w http.ResponseWriter, r *http.Request) {
	phone, ok := phoneParam(w, r)
	if !ok {
		return
	}

	var body struct {
		ContactID string `json:"contact_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.workbench.LinkExisting(r.Context(), phone, body.ContactID); err != nil {
		s.respondResolutionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"contact_id": body.ContactID,
		"phone":      phone,
	})
}

// respondResolutionError maps workbench errors to statuses: conflicts are
// reported locally and mutate nothing, so they are client errors, not 500s.
func (s *Server) respondResolutionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, contacts.ErrMappingNotFound),
		errors.Is(err, contacts.ErrContactNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, contacts.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.respondError(w, r, err, http.StatusInternalServerError)
	}
}

// phoneParam extracts and decodes the phone path parameter ("+" arrives
// percent-encoded).
func phoneParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "phone")
	phone, err := url.PathUnescape(raw)
	if err != nil || phone == "" {
		writeError(w, http.StatusBadRequest, "missing or invalid phone")
		return "", false
	}
	return phone, true
}
