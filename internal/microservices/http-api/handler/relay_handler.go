package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"panelbridge/internal/microservices/http-api/dto"
	"panelbridge/internal/microservices/relay"
	"panelbridge/internal/protocol"
	"panelbridge/internal/state"
)

// RelayService is the part of the hub the REST API needs
type RelayService interface {
	Snapshot() state.Snapshot
	Stats() relay.StatsSnapshot
	SessionCount() int
	Inject(ctx context.Context, cmd protocol.Command, origin relay.Origin) (relay.Result, error)
}

type RelayHandler struct {
	relay RelayService
}

func NewRelayHandler(svc RelayService) *RelayHandler {
	return &RelayHandler{relay: svc}
}

// RegisterRoutes mounts the read routes; commands are mounted separately so
// they can sit behind panel auth
func (h *RelayHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/state", h.GetState)
	rg.GET("/stats", h.GetStats)
}

func (h *RelayHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "ok", Sessions: h.relay.SessionCount()})
}

func (h *RelayHandler) GetState(c *gin.Context) {
	snap := h.relay.Snapshot()
	c.JSON(http.StatusOK, dto.StateResponse{Snapshot: snap, Fields: snap.Fields()})
}

func (h *RelayHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.relay.Stats())
}

// PostCommand decodes pipe text or a JSON envelope and injects it into the hub
func (h *RelayHandler) PostCommand(c *gin.Context) {
	var req dto.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	var (
		cmd protocol.Command
		err error
	)
	switch {
	case req.Command != "" && len(req.Envelope) > 0:
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "send either command or envelope"})
		return
	case req.Command != "":
		cmd, err = protocol.PipeCodec{}.Decode([]byte(req.Command))
	case len(req.Envelope) > 0:
		cmd, err = protocol.JSONCodec{}.Decode(req.Envelope)
	default:
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "command or envelope is required"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: protocol.ErrorCode(err)})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	res, err := h.relay.Inject(ctx, cmd, relay.Origin{Source: relay.SourceREST})
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrUnknownCommand), errors.Is(err, protocol.ErrInvalidCommand):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: protocol.ErrorCode(err)})
		case errors.Is(err, relay.ErrHubStopped), errors.Is(err, context.DeadlineExceeded):
			c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		}
		return
	}

	feedback := make([]string, 0, len(res.Feedback))
	for _, fb := range res.Feedback {
		frame, err := protocol.PipeCodec{}.Encode(fb)
		if err != nil {
			// names with a delimiter only travel as JSON
			frame, _ = protocol.JSONCodec{}.Encode(fb)
		}
		feedback = append(feedback, string(frame))
	}
	c.JSON(http.StatusOK, dto.CommandResponse{Changes: res.Changes, Feedback: feedback})
}
