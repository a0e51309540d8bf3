package tools

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/erauner12/strava-mcp/internal/strava"
)

// StravaAPI is the slice of the Strava client the tools use
type StravaAPI interface {
	Call(ctx context.Context, method, path string, body any) (json.RawMessage, error)
	GetLoggedInAthlete(ctx context.Context) (*strava.Athlete, error)
}

// ToolContext provides per-call resources for tool handlers
type ToolContext struct {
	Logger    *zerolog.Logger
	AthleteID string
	SessionID string
	Strava    StravaAPI
}

// NewToolContext creates the context for one tools/call
func NewToolContext(logger *zerolog.Logger, athleteID, sessionID string, api StravaAPI) *ToolContext {
	return &ToolContext{
		Logger:    logger,
		AthleteID: athleteID,
		SessionID: sessionID,
		Strava:    api,
	}
}

// api returns the Strava client or a tool error when the session has none
func (tc *ToolContext) api() (StravaAPI, error) {
	if tc == nil || tc.Strava == nil {
		return nil, NewToolError(ErrCodeUnauthorized, "No Strava session for this request", nil)
	}
	return tc.Strava, nil
}
