// Package api exposes the year in review over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/naka-gawa/year-review/internal/domain"
	apperrors "github.com/naka-gawa/year-review/internal/errors"
)

// Reviewer builds reports and disconnects providers. *usecase.Aggregator implements it.
type Reviewer interface {
	Aggregate(ctx context.Context, year int, providers []domain.Provider) (*domain.Report, error)
	Disconnect(ctx context.Context, provider domain.Provider) error
}

// ConnectionChecker reports whether a provider has a stored credential.
type ConnectionChecker interface {
	Connected(ctx context.Context, provider domain.Provider) bool
}

// Handler handles API requests
type Handler struct {
	reviewer    Reviewer
	connections ConnectionChecker
}

// NewHandler creates a new API handler
func NewHandler(reviewer Reviewer, connections ConnectionChecker) *Handler {
	return &Handler{
		reviewer:    reviewer,
		connections: connections,
	}
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// GetReview returns the year in review
// GET /api/v1/review/:year?providers=github,slack
func (h *Handler) GetReview(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		respondError(c, apperrors.NewBadRequestError("year must be a number"))
		return
	}

	report, err := h.reviewer.Aggregate(c.Request.Context(), year, parseProviders(c.Query("providers")))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": report,
	})
}

// GetProviders lists every provider with its connection state
// GET /api/v1/providers
func (h *Handler) GetProviders(c *gin.Context) {
	providers := make([]gin.H, 0, len(domain.AllProviders))
	for _, p := range domain.AllProviders {
		providers = append(providers, gin.H{
			"provider":  p,
			"connected": h.connections.Connected(c.Request.Context(), p),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"data": providers,
	})
}

// DeleteCredential disconnects a provider
// DELETE /api/v1/providers/:provider/credential
func (h *Handler) DeleteCredential(c *gin.Context) {
	provider := domain.Provider(c.Param("provider"))
	if err := h.reviewer.Disconnect(c.Request.Context(), provider); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// parseProviders splits a comma separated provider list. Empty means all.
func parseProviders(raw string) []domain.Provider {
	var providers []domain.Provider
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(strings.ToLower(name)); name != "" {
			providers = append(providers, domain.Provider(name))
		}
	}
	return providers
}

func respondError(c *gin.Context, err error) {
	if appErr, ok := apperrors.As(err); ok {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeNotConnected, apperrors.ErrCodeCredentialExpired, apperrors.ErrCodeReauthorizationRequired:
			status = http.StatusUnauthorized
		case apperrors.ErrCodeProviderFetch, apperrors.ErrCodeMalformedResponse:
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": err.Error(),
		},
	})
}
