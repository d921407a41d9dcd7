package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/webuildtrades/postcode-lookup/internal/addressbook"
	"github.com/webuildtrades/postcode-lookup/internal/logging"
)

// handleListAddresses returns the address book, filtered by ?q= when set.
func (s *Server) handleListAddresses(w http.ResponseWriter, r *http.Request, _ session) {
	addresses, err := s.addresses.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Error("Failed to list addresses", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "Failed to fetch addresses")
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"addresses": addresses})
}

func (s *Server) handleCreateAddress(w http.ResponseWriter, r *http.Request, sess session) {
	var in addressbook.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	a, err := s.addresses.Add(r.Context(), sess.profile.ID, in)
	if err != nil {
		s.writeAddressError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, a)
}

func (s *Server) handleUpdateAddress(w http.ResponseWriter, r *http.Request, sess session) {
	var in addressbook.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	a, err := s.addresses.Update(r.Context(), sess.profile.ID, sess.admin(), r.PathValue("id"), in)
	if err != nil {
		s.writeAddressError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, a)
}

func (s *Server) handleDeleteAddress(w http.ResponseWriter, r *http.Request, sess session) {
	if err := s.addresses.Delete(r.Context(), sess.profile.ID, sess.admin(), r.PathValue("id")); err != nil {
		s.writeAddressError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeAddressError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, addressbook.ErrInvalidAddress):
		s.writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, addressbook.ErrForbidden):
		s.writeError(w, r, http.StatusForbidden, "Administrator role required")
	case errors.Is(err, addressbook.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, "Address not found")
	default:
		logging.FromContext(r.Context(), s.logger).Error("Address operation failed", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}
