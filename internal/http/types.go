package http

import "github.com/fyrsmithlabs/costgate/internal/maintenance"

// TurnRequest is the request body for POST /api/v1/turns. The user id
// comes from the X-User-ID header.
type TurnRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SweepResponse is the response body for POST /api/v1/maintenance/sweep.
type SweepResponse struct {
	Report maintenance.Report `json:"report"`
	Error  string             `json:"error,omitempty"`
}
