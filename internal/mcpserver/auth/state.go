package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/erauner12/strava-mcp/internal/oauthserver"
)

// stateVersion is the envelope version written by EncodeState.
// DecodeState also accepts the bare request encoding used before envelopes.
const stateVersion = 1

type stateEnvelope struct {
	V   int                      `json:"v"`
	Req *oauthserver.AuthRequest `json:"req"`
}

// EncodeState serializes the MCP client's authorization request into the
// opaque state parameter sent to Strava.
func EncodeState(req *oauthserver.AuthRequest) (string, error) {
	if req == nil {
		return "", flowError(ErrInvalidAuthorizationRequest, fmt.Errorf("nil request"))
	}
	raw, err := json.Marshal(stateEnvelope{V: stateVersion, Req: req})
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeState recovers the authorization request carried in state.
// Any failure is reported as ErrInvalidCallbackState.
func DecodeState(state string) (*oauthserver.AuthRequest, error) {
	if state == "" {
		return nil, flowError(ErrInvalidCallbackState, fmt.Errorf("state is empty"))
	}
	raw, err := base64.StdEncoding.DecodeString(state)
	if err != nil {
		return nil, flowError(ErrInvalidCallbackState, err)
	}

	var envelope struct {
		V   *int            `json:"v"`
		Req json.RawMessage `json:"req"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, flowError(ErrInvalidCallbackState, err)
	}

	body := raw
	if envelope.V != nil {
		if *envelope.V != stateVersion {
			return nil, flowError(ErrInvalidCallbackState, fmt.Errorf("unsupported state version %d", *envelope.V))
		}
		body = envelope.Req
	}

	var req oauthserver.AuthRequest
	if len(body) == 0 {
		return nil, flowError(ErrInvalidCallbackState, fmt.Errorf("state carries no request"))
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, flowError(ErrInvalidCallbackState, err)
	}
	if req.ClientID == "" {
		return nil, flowError(ErrInvalidCallbackState, fmt.Errorf("state has no client id"))
	}
	return &req, nil
}
