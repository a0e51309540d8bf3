package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/erauner12/strava-mcp/internal/strava"
)

type fakeRefreshExchanger struct {
	cred  *strava.Credential
	err   error
	calls int
	got   []string
}

func (f *fakeRefreshExchanger) ExchangeRefreshToken(_ context.Context, clientID, clientSecret, refreshToken string) (*strava.Credential, error) {
	f.calls++
	f.got = []string{clientID, clientSecret, refreshToken}
	if f.err != nil {
		return nil, f.err
	}
	return f.cred, nil
}

func TestRefresher_Success(t *testing.T) {
	up := &fakeRefreshExchanger{cred: &strava.Credential{AccessToken: "T2", RefreshToken: "R2"}}
	r := NewRefresher(up, "cid", "secret")

	got, err := r.Refresh(context.Background(), "R_old")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got != (TokenUpdate{AccessToken: "T2", RefreshToken: "R2"}) {
		t.Errorf("unexpected update: %+v", got)
	}
	if up.got[0] != "cid" || up.got[1] != "secret" || up.got[2] != "R_old" {
		t.Errorf("unexpected exchange args: %v", up.got)
	}
}

func TestRefresher_CarriesStravaExpiry(t *testing.T) {
	up := &fakeRefreshExchanger{cred: &strava.Credential{AccessToken: "T2", RefreshToken: "R2", ExpiresAt: 1700000000}}

	got, err := NewRefresher(up, "cid", "secret").Refresh(context.Background(), "R")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got != (TokenUpdate{AccessToken: "T2", RefreshToken: "R2", ExpiresAt: 1700000000}) {
		t.Errorf("unexpected update: %+v", got)
	}
}

func TestRefresher_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	up := &fakeRefreshExchanger{cred: &strava.Credential{AccessToken: "T2"}}
	got, err := NewRefresher(up, "cid", "secret").Refresh(context.Background(), "R")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got.RefreshToken != "R" {
		t.Errorf("expected old refresh token, got %q", got.RefreshToken)
	}
}

func TestRefresher_Rejected(t *testing.T) {
	up := &fakeRefreshExchanger{err: &strava.RefreshError{StatusCode: 400, Body: `{"message":"Bad Request"}`}}
	_, err := NewRefresher(up, "cid", "secret").Refresh(context.Background(), "R")

	var failed *RefreshFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected RefreshFailedError, got %v", err)
	}
	if failed.StatusCode != 400 || failed.Body == "" {
		t.Errorf("status/body not carried: %+v", failed)
	}
	if !errors.Is(err, ErrUpstreamRefresh) {
		t.Error("should match ErrUpstreamRefresh")
	}
}

func TestRefresher_NoRefreshToken(t *testing.T) {
	up := &fakeRefreshExchanger{}
	_, err := NewRefresher(up, "cid", "secret").Refresh(context.Background(), "")
	if !errors.Is(err, ErrUpstreamRefresh) {
		t.Errorf("expected ErrUpstreamRefresh, got %v", err)
	}
	if up.calls != 0 {
		t.Errorf("expected no upstream call, got %d", up.calls)
	}
}

func TestSessionProps_WithTokens(t *testing.T) {
	p := SessionProps{UserID: "42", FirstName: "Ada", LastName: "L", AccessToken: "T", RefreshToken: "R", ExpiresAt: 100}
	next := p.WithTokens(TokenUpdate{AccessToken: "T2", RefreshToken: "R2", ExpiresAt: 200})

	if next != (SessionProps{UserID: "42", FirstName: "Ada", LastName: "L", AccessToken: "T2", RefreshToken: "R2", ExpiresAt: 200}) {
		t.Errorf("unexpected props: %+v", next)
	}
	if p.AccessToken != "T" || p.RefreshToken != "R" || p.ExpiresAt != 100 {
		t.Error("original props were modified")
	}
}
