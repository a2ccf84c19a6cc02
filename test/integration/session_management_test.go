package integration

import (
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
)

type sessionView struct {
	ID        uint   `json:"id"`
	IsCurrent bool   `json:"is_current"`
	UserAgent string `json:"user_agent"`
}

func listSessions(t *testing.T, client *http.Client, baseURL string) []sessionView {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodGet, baseURL+"/api/v1/me/sessions", nil, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("list sessions failed: status=%d", resp.StatusCode)
	}
	var payload struct {
		Sessions []sessionView `json:"sessions"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	return payload.Sessions
}

func TestSessionListAndRevokeByDevice(t *testing.T) {
	env := newAuthTestServer(t)
	deviceA := newDeviceClient(t)
	deviceB := newDeviceClient(t)

	registerAndLogin(t, deviceA, env.BaseURL, "devices@example.com", "correct horse battery")
	login(t, deviceB, env.BaseURL, "devices@example.com", "correct horse battery")

	sessions := listSessions(t, deviceB, env.BaseURL)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	var currentCount int
	var otherID uint
	for _, s := range sessions {
		if s.IsCurrent {
			currentCount++
			continue
		}
		otherID = s.ID
	}
	if currentCount != 1 {
		t.Fatalf("expected exactly one current session, got %d", currentCount)
	}
	if otherID == 0 {
		t.Fatal("expected one non-current session to revoke")
	}

	resp, _ := doJSON(t, deviceB, http.MethodDelete, env.BaseURL+"/api/v1/me/sessions/"+strconv.FormatUint(uint64(otherID), 10), nil, csrfHeader(t, deviceB, env.BaseURL))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke failed: %d", resp.StatusCode)
	}

	// Device A's next poll tells it to sign out.
	if v := pollValidate(t, deviceA, env.BaseURL); v.Valid || v.Reason != "expired-or-revoked" || !v.ShouldLogout {
		t.Fatalf("device A should be told to log out, got %+v", v)
	}
	// Device B is untouched.
	if v := pollValidate(t, deviceB, env.BaseURL); !v.Valid {
		t.Fatalf("device B should stay valid, got %+v", v)
	}
}

func TestRevokeOthersKeepsCurrent(t *testing.T) {
	env := newAuthTestServer(t)
	deviceA := newDeviceClient(t)
	deviceB := newDeviceClient(t)
	deviceC := newDeviceClient(t)

	registerAndLogin(t, deviceA, env.BaseURL, "revoke-others@example.com", "correct horse battery")
	login(t, deviceB, env.BaseURL, "revoke-others@example.com", "correct horse battery")
	login(t, deviceC, env.BaseURL, "revoke-others@example.com", "correct horse battery")

	resp, env2 := doJSON(t, deviceC, http.MethodPost, env.BaseURL+"/api/v1/me/sessions/revoke-others", nil, csrfHeader(t, deviceC, env.BaseURL))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke-others failed: %d", resp.StatusCode)
	}
	var payload struct {
		RevokedCount int64 `json:"revoked_count"`
	}
	if err := json.Unmarshal(env2.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.RevokedCount != 2 {
		t.Fatalf("expected 2 revoked, got %d", payload.RevokedCount)
	}

	if v := pollValidate(t, deviceC, env.BaseURL); !v.Valid {
		t.Fatalf("caller must keep its session, got %+v", v)
	}
	for name, device := range map[string]*http.Client{"A": deviceA, "B": deviceB} {
		if v := pollValidate(t, device, env.BaseURL); v.Valid {
			t.Fatalf("device %s should be revoked, got %+v", name, v)
		}
	}
}

func TestSessionRevokeErrors(t *testing.T) {
	env := newAuthTestServer(t)
	client := newDeviceClient(t)
	registerAndLogin(t, client, env.BaseURL, "revoke-errors@example.com", "correct horse battery")
	headers := csrfHeader(t, client, env.BaseURL)

	resp, _ := doJSON(t, client, http.MethodDelete, env.BaseURL+"/api/v1/me/sessions/not-a-number", nil, headers)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed session id, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, client, http.MethodDelete, env.BaseURL+"/api/v1/me/sessions/999999", nil, headers)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session id, got %d", resp.StatusCode)
	}

	sessions := listSessions(t, client, env.BaseURL)
	if len(sessions) != 1 || !sessions[0].IsCurrent {
		t.Fatalf("expected a single current session, got %+v", sessions)
	}
	resp, env2 := doJSON(t, client, http.MethodDelete, env.BaseURL+"/api/v1/me/sessions/"+strconv.FormatUint(uint64(sessions[0].ID), 10), nil, headers)
	if resp.StatusCode != http.StatusBadRequest || env2.Error == nil || env2.Error.Code != "INVALID_OPERATION" {
		t.Fatalf("expected INVALID_OPERATION for revoking the current session, got status=%d err=%+v", resp.StatusCode, env2.Error)
	}
}
