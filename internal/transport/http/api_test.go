package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"mathquest/internal/domain"
)

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreateGameEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/games", domain.GameConfig{
		Creator:    "t1",
		TemplateID: "tmpl-1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var summary domain.GameSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.AccessCode == "" || summary.Status != domain.GameStatusLobby {
		t.Fatalf("unexpected summary %+v", summary)
	}

	resp = postJSON(t, server.URL+"/api/games", domain.GameConfig{TemplateID: "tmpl-1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing creator: expected 400, got %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/api/games", domain.GameConfig{Creator: "t1", TemplateID: "missing"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown template: expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateGameEndpointDuplicateCode(t *testing.T) {
	server, service := newTestServer(t)
	createGame(t, service, "MATH42")

	resp := postJSON(t, server.URL+"/api/games", domain.GameConfig{
		AccessCode: "MATH42",
		Creator:    "t2",
		TemplateID: "tmpl-1",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestGetGameEndpoint(t *testing.T) {
	server, service := newTestServer(t)
	createGame(t, service, "MATH42")

	resp, err := http.Get(server.URL + "/api/games/MATH42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var summary domain.GameSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.AccessCode != "MATH42" || summary.PlayMode != domain.PlayModeLive {
		t.Fatalf("unexpected summary %+v", summary)
	}

	resp, err = http.Get(server.URL + "/api/games/NOPE")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestEndGameEndpoint(t *testing.T) {
	server, service := newTestServer(t)
	createGame(t, service, "MATH42")

	resp := postJSON(t, server.URL+"/api/games/MATH42/end", map[string]string{"userId": "intruder"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-creator end: expected 403, got %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/api/games/MATH42/end", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing userId: expected 400, got %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/api/games/MATH42/end", map[string]string{"userId": "t1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("creator end: expected 200, got %d", resp.StatusCode)
	}

	summary, err := service.Summary("MATH42")
	if err != nil {
		t.Fatalf("ended session must stay queryable during grace: %v", err)
	}
	if summary.Status != domain.GameStatusEnded {
		t.Fatalf("expected ended status, got %s", summary.Status)
	}

	resp = postJSON(t, server.URL+"/api/games/NOPE/end", map[string]string{"userId": "t1"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown game: expected 404, got %d", resp.StatusCode)
	}
}
