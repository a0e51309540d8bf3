package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/erauner12/strava-mcp/internal/strava"
)

// GetLoggedInAthlete fetches the athlete that owns the current token
func (c *HTTPClient) GetLoggedInAthlete(ctx context.Context) (*strava.Athlete, error) {
	raw, err := c.Call(ctx, http.MethodGet, "/athlete", nil)
	if err != nil {
		return nil, err
	}

	var athlete strava.Athlete
	if err := json.Unmarshal(raw, &athlete); err != nil {
		return nil, fmt.Errorf("failed to decode athlete: %w", err)
	}
	if athlete.ID == 0 {
		return nil, fmt.Errorf("athlete response has no id")
	}
	return &athlete, nil
}
