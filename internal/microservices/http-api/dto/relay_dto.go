package dto

import (
	"encoding/json"
	"time"

	"panelbridge/internal/microservices/http-api/models"
	"panelbridge/internal/state"
)

// CommandRequest carries either pipe text or a JSON envelope
type CommandRequest struct {
	Command  string          `json:"command,omitempty"`
	Envelope json.RawMessage `json:"envelope,omitempty"`
}

// CommandResponse lists what the command changed and the feedback panels got
type CommandResponse struct {
	Changes  []state.Change `json:"changes"`
	Feedback []string       `json:"feedback"`
}

// StateResponse is the snapshot plus its ordered field list
type StateResponse struct {
	state.Snapshot
	Fields []state.Change `json:"fields"`
}

type IssueTokenRequest struct {
	Panel string `json:"panel" binding:"required,max=64"`
}

type IssueTokenResponse struct {
	Token     string    `json:"token"`
	Panel     string    `json:"panel"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RecentCommandsResponse struct {
	Commands []models.CommandLog `json:"commands"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
