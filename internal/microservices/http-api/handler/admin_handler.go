package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"panelbridge/internal/microservices/http-api/dto"
	"panelbridge/internal/microservices/http-api/repository"
	"panelbridge/internal/microservices/http-api/service"
)

// AdminHandler serves the operator routes. tokens is nil when panel tokens
// are off; logs is nil when the audit log is disabled.
type AdminHandler struct {
	tokens service.TokenService
	logs   repository.CommandLogRepository
}

func NewAdminHandler(tokens service.TokenService, logs repository.CommandLogRepository) *AdminHandler {
	return &AdminHandler{tokens: tokens, logs: logs}
}

func (h *AdminHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/tokens", h.IssueToken)
	rg.GET("/commands/recent", h.RecentCommands)
}

// IssueToken creates a panel token for the named panel
func (h *AdminHandler) IssueToken(c *gin.Context) {
	var req dto.IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if h.tokens == nil {
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: service.ErrTokensDisabled.Error()})
		return
	}

	token, expiresAt, err := h.tokens.IssuePanelToken(req.Panel)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPanelName):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		case errors.Is(err, service.ErrTokensDisabled):
			c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to issue token"})
		}
		return
	}

	c.JSON(http.StatusCreated, dto.IssueTokenResponse{Token: token, Panel: req.Panel, ExpiresAt: expiresAt})
}

// RecentCommands returns the newest audit entries
func (h *AdminHandler) RecentCommands(c *gin.Context) {
	if h.logs == nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "command log is disabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	entries, err := h.logs.Recent(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.RecentCommandsResponse{Commands: entries})
}
