package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
)

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

func TestMockServer_DefaultRoute(t *testing.T) {
	ms := NewMockServer(t, WithToken("tok_123"))

	resp := get(t, ms.UsageURL(), "tok_123")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := result["five_hour"]; !ok {
		t.Error("response missing 'five_hour' key")
	}
}

func TestMockServer_RejectsWrongToken(t *testing.T) {
	ms := NewMockServer(t, WithToken("tok_correct"))

	resp := get(t, ms.UsageURL(), "tok_wrong")
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestMockServer_InjectedError(t *testing.T) {
	ms := NewMockServer(t)
	ms.SetError(http.StatusBadGateway)

	resp := get(t, ms.UsageURL(), "")
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if ms.RequestCount() != 1 {
		t.Errorf("expected 1 request, got %d", ms.RequestCount())
	}
}

func TestMockServer_RoundRobin(t *testing.T) {
	ms := NewMockServer(t, WithResponses(`{"a":1}`, `{"b":2}`))

	var bodies []string
	for range 3 {
		resp := get(t, ms.UsageURL(), "")
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		bodies = append(bodies, string(b))
	}
	if bodies[0] != `{"a":1}` || bodies[1] != `{"b":2}` || bodies[2] != `{"a":1}` {
		t.Errorf("unexpected sequence: %v", bodies)
	}
}
