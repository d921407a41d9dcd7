package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/webuildtrades/postcode-lookup/internal/account"
	"github.com/webuildtrades/postcode-lookup/internal/apikey"
	"github.com/webuildtrades/postcode-lookup/internal/identity"
	"github.com/webuildtrades/postcode-lookup/internal/logging"
)

const actorManagementAPI = "management_api"

// rateLimitRequest is the body of PUT /manage/users/:id.
type rateLimitRequest struct {
	RateLimit *int `json:"rateLimit"`
}

// managementEngine builds the gin router for the user-management API.
func (s *Server) managementEngine() *gin.Engine {
	if s.config.APIEnv == "development" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	users := engine.Group("/manage/users", s.managementAuth())
	users.GET("", s.handleListUsers)
	users.POST("", s.handleRegisterUser)
	users.GET("/:id", s.handleGetUser)
	users.PUT("/:id", s.handleSetRateLimit)
	users.DELETE("/:id", s.handleDeleteUser)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return engine
}

// managementAuth accepts the management token, or a session token whose
// caller is an administrator. The acting principal is stored under "actor".
func (s *Server) managementAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := identity.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing management token"})
			return
		}
		if s.validManagementToken(token) {
			c.Set("actor", actorManagementAPI)
			c.Next()
			return
		}

		id, err := s.identity.Verify(token)
		if err != nil {
			s.audit.LogAuthFailure(c.Request.Context(), "", "invalid management token", c.ClientIP(), c.Request.UserAgent())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid management token"})
			return
		}
		if !id.IsAdmin {
			p, err := s.accounts.Profile(c.Request.Context(), id.UserID)
			if err != nil || !p.IsAdmin {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "administrator role required"})
				return
			}
		}
		ctx := identity.WithIdentity(c.Request.Context(), id)
		c.Request = c.Request.WithContext(logging.WithUserID(ctx, id.UserID))
		c.Set("actor", id.UserID)
		c.Next()
	}
}

func (s *Server) handleListUsers(c *gin.Context) {
	profiles, err := s.accounts.ListUsers(c.Request.Context())
	if err != nil {
		s.managementError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": profiles})
}

func (s *Server) handleGetUser(c *gin.Context) {
	p, err := s.accounts.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.managementError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleRegisterUser(c *gin.Context) {
	var reg account.Registration
	if err := c.ShouldBindJSON(&reg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	p, err := s.accounts.RegisterProfile(c.Request.Context(), c.GetString("actor"), reg)
	if err != nil {
		s.managementError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) handleSetRateLimit(c *gin.Context) {
	var req rateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RateLimit == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rateLimit is required"})
		return
	}
	p, err := s.accounts.SetRateLimit(c.Request.Context(), c.GetString("actor"), c.Param("id"), *req.RateLimit)
	if err != nil {
		s.managementError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleDeleteUser(c *gin.Context) {
	if err := s.accounts.DeleteUser(c.Request.Context(), c.GetString("actor"), c.Param("id")); err != nil {
		s.managementError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) managementError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apikey.ErrProfileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, apikey.ErrProfileExists):
		c.JSON(http.StatusConflict, gin.H{"error": "user already exists"})
	case errors.Is(err, account.ErrInvalidRateLimit), errors.Is(err, account.ErrInvalidProfile):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logging.FromContext(c.Request.Context(), s.logger).Error("Management request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
