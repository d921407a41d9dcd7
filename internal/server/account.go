package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/webuildtrades/postcode-lookup/internal/account"
	"github.com/webuildtrades/postcode-lookup/internal/apikey"
	"github.com/webuildtrades/postcode-lookup/internal/identity"
	"github.com/webuildtrades/postcode-lookup/internal/logging"
)

// session is the authenticated caller of an account route.
type session struct {
	identity identity.Identity
	profile  apikey.Profile
}

// admin reports whether the session may act on other users' data.
func (s session) admin() bool {
	return s.identity.IsAdmin || s.profile.IsAdmin
}

type sessionHandlerFunc func(w http.ResponseWriter, r *http.Request, sess session)

// sessionAuth verifies the Bearer session token and loads the caller's
// profile, creating it on first access.
func (s *Server) sessionAuth(next sessionHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := identity.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.writeError(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}
		id, err := s.identity.Verify(token)
		if err != nil {
			s.audit.LogAuthFailure(r.Context(), "", err.Error(), clientIP(r), r.UserAgent())
			if errors.Is(err, identity.ErrNotConfigured) {
				s.writeError(w, r, http.StatusServiceUnavailable, "Authentication is not configured")
				return
			}
			s.writeError(w, r, http.StatusUnauthorized, "Invalid session token")
			return
		}

		ctx := identity.WithIdentity(r.Context(), id)
		ctx = logging.WithUserID(ctx, id.UserID)
		r = r.WithContext(ctx)

		profile, err := s.accounts.Profile(ctx, id.UserID)
		if errors.Is(err, apikey.ErrProfileNotFound) {
			profile, err = s.accounts.RegisterProfile(ctx, id.UserID, account.Registration{
				ID:      id.UserID,
				Email:   id.Email,
				IsAdmin: id.IsAdmin,
			})
		}
		if err != nil {
			if errors.Is(err, account.ErrInvalidProfile) {
				s.writeError(w, r, http.StatusBadRequest, "Session token has no email")
				return
			}
			logging.FromContext(ctx, s.logger).Error("Failed to load profile", zap.Error(err))
			s.writeError(w, r, http.StatusInternalServerError, "Internal server error")
			return
		}
		next(w, r, session{identity: id, profile: profile})
	})
}

// profileResponse is the account page payload.
type profileResponse struct {
	apikey.Profile
	HasKey bool `json:"has_api_key"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, sess session) {
	s.writeJSON(w, r, http.StatusOK, profileResponse{Profile: sess.profile, HasKey: sess.profile.HasKey()})
}

func (s *Server) handleGenerateKey(w http.ResponseWriter, r *http.Request, sess session) {
	p, err := s.accounts.GenerateKey(r.Context(), sess.profile.ID)
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Error("Failed to generate API key", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "Failed to generate API key")
		return
	}
	s.writeJSON(w, r, http.StatusOK, profileResponse{Profile: p, HasKey: true})
}

// handleUsage lists usage records. ?limit= caps the rows (0 or absent means
// all) and ?order=asc returns oldest first.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request, sess session) {
	q := r.URL.Query()
	limit := account.RecentUsageLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	newestFirst := q.Get("order") != "asc"

	records, err := s.accounts.UsageList(r.Context(), sess.profile.ID, limit, newestFirst)
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Error("Failed to list usage", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "Failed to fetch usage")
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"usage": records})
}

func (s *Server) handleDailyUsage(w http.ResponseWriter, r *http.Request, sess session) {
	days, err := s.accounts.DailyUsage(r.Context(), sess.profile.ID)
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Error("Failed to build daily usage", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "Failed to fetch usage")
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"days": days})
}

type domainRequest struct {
	Domain string `json:"domain"`
}

func (s *Server) handleAddDomain(w http.ResponseWriter, r *http.Request, sess session) {
	var req domainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	domains, err := s.accounts.AddDomain(r.Context(), sess.profile.ID, req.Domain)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"allowed_domains": domains})
}

func (s *Server) handleRemoveDomain(w http.ResponseWriter, r *http.Request, sess session) {
	domains, err := s.accounts.RemoveDomain(r.Context(), sess.profile.ID, r.PathValue("domain"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"allowed_domains": domains})
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apikey.ErrInvalidDomain):
		s.writeError(w, r, http.StatusBadRequest, "Invalid domain format")
	case errors.Is(err, account.ErrDomainExists):
		s.writeError(w, r, http.StatusConflict, "Domain already exists")
	case errors.Is(err, account.ErrDomainNotFound):
		s.writeError(w, r, http.StatusNotFound, "Domain not found")
	default:
		logging.FromContext(r.Context(), s.logger).Error("Failed to update allowed domains", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "Failed to update allowed domains")
	}
}
