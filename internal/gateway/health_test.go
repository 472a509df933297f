package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHealth(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, stallingAgent{})
	srv := httptest.NewServer(g.buildRouter())
	defer srv.Close()

	createRun(t, srv)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	var hr HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		t.Fatal(err)
	}
	if hr.Status != "ok" {
		t.Errorf("status = %s", hr.Status)
	}
	if hr.Runs.Total != 1 {
		t.Errorf("total runs = %d, want 1", hr.Runs.Total)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, stallingAgent{})
	srv := httptest.NewServer(g.buildRouter())
	defer srv.Close()

	createRun(t, srv)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	body := string(raw)
	if !strings.Contains(body, "voxscribe_runs_started_total 1") {
		t.Errorf("runs_started_total missing or wrong:\n%s", firstLines(body, 5))
	}
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
