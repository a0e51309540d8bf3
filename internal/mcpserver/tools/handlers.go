package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// HandleAdd sums two numbers. It needs no Strava access and doubles as a
// connectivity check for MCP hosts.
func HandleAdd(_ context.Context, _ *ToolContext, raw json.RawMessage) (any, error) {
	var params AddParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	return strconv.FormatFloat(*params.A+*params.B, 'f', -1, 64), nil
}

func HandleGetAthlete(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	var params NoParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	return call(ctx, tc, http.MethodGet, "/athlete", nil)
}

func HandleGetAthleteStats(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	var params NoParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	athleteID, err := currentAthleteID(ctx, tc)
	if err != nil {
		return nil, err
	}
	return call(ctx, tc, http.MethodGet, "/athletes/"+athleteID+"/stats", nil)
}

func HandleGetAthleteZones(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	var params NoParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	return call(ctx, tc, http.MethodGet, "/athlete/zones", nil)
}

func HandleListActivities(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	var params ListActivitiesParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	return call(ctx, tc, http.MethodGet, "/athlete/activities?"+params.query().Encode(), nil)
}

func HandleGetActivity(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	var params GetActivityParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/activities/%d", params.ID)
	if params.IncludeAllEfforts {
		path += "?include_all_efforts=true"
	}
	return call(ctx, tc, http.MethodGet, path, nil)
}

func HandleUpdateActivity(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	var params UpdateActivityParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	if tc != nil && tc.Logger != nil {
		tc.Logger.Info().Int64("activityId", params.ID).Msg("updating strava activity")
	}
	return call(ctx, tc, http.MethodPut, fmt.Sprintf("/activities/%d", params.ID), params.body())
}

func HandleListRoutes(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	var params PageParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	athleteID, err := currentAthleteID(ctx, tc)
	if err != nil {
		return nil, err
	}
	return call(ctx, tc, http.MethodGet, "/athletes/"+athleteID+"/routes?"+params.query().Encode(), nil)
}

// call forwards one request to Strava and returns the raw JSON response
func call(ctx context.Context, tc *ToolContext, method, path string, body any) (any, error) {
	api, err := tc.api()
	if err != nil {
		return nil, err
	}
	data, err := api.Call(ctx, method, path, body)
	if err != nil {
		return nil, WrapClientError(err)
	}
	return data, nil
}

// currentAthleteID prefers the session's athlete and falls back to asking Strava
func currentAthleteID(ctx context.Context, tc *ToolContext) (string, error) {
	if tc != nil && tc.AthleteID != "" {
		return tc.AthleteID, nil
	}
	api, err := tc.api()
	if err != nil {
		return "", err
	}
	athlete, err := api.GetLoggedInAthlete(ctx)
	if err != nil {
		return "", WrapClientError(err)
	}
	return strconv.FormatInt(athlete.ID, 10), nil
}
