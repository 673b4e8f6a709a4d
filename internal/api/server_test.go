package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/ragent/internal/connwatch"
	"github.com/nugget/ragent/internal/mcp"
	"github.com/nugget/ragent/internal/orchestrator"
	"github.com/nugget/ragent/internal/registry"
	"github.com/nugget/ragent/internal/toolserver"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRunner records the queries it receives and emits a fixed event
// sequence.
type fakeRunner struct {
	mu       sync.Mutex
	queries  []orchestrator.Query
	deadline time.Time
}

func (f *fakeRunner) Run(ctx context.Context, q orchestrator.Query) *orchestrator.Result {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.deadline, _ = ctx.Deadline()
	f.mu.Unlock()

	res := &orchestrator.Result{ID: "q-1", Query: q.Text, CallerID: q.CallerID, Summary: "query: " + q.Text}
	if q.Observer != nil {
		for _, st := range []orchestrator.State{orchestrator.StateIdle, orchestrator.StateSelecting, orchestrator.StateDone} {
			ev := orchestrator.Event{QueryID: res.ID, State: st}
			if st == orchestrator.StateDone {
				ev.Final = res
			}
			q.Observer.Observe(ev)
		}
	}
	return res
}

func (f *fakeRunner) last() orchestrator.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

type fakeHealth map[string]connwatch.ServiceStatus

func (h fakeHealth) Status() map[string]connwatch.ServiceStatus { return h }

func newTestServer(t *testing.T, runner Runner) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer("", 0, runner, discardLogger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func TestHandleQuery(t *testing.T) {
	runner := &fakeRunner{}
	_, srv := newTestServer(t, runner)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/query", strings.NewReader(`{"query":"what is 2+2","top_k":3,"timeout_ms":1500}`))
	req.Header.Set(mcp.HeaderCallerID, "caller-7")
	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get(HeaderQueryID) != "q-1" || resp.Header.Get(mcp.HeaderCallerID) != "caller-7" {
		t.Errorf("headers = %v", resp.Header)
	}
	var res orchestrator.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Query != "what is 2+2" || res.CallerID != "caller-7" {
		t.Errorf("result = %+v", res)
	}

	q := runner.last()
	if q.TopK != 3 || q.CallerID != "caller-7" {
		t.Errorf("query = %+v", q)
	}
	if d := runner.deadline.Sub(start); d <= 0 || d > 2*time.Second {
		t.Errorf("deadline in %v, want about 1.5s", d)
	}
}

func TestHandleQuery_TimeoutCappedAtServerDeadline(t *testing.T) {
	runner := &fakeRunner{}
	s, srv := newTestServer(t, runner)
	s.SetDeadline(2 * time.Second)

	start := time.Now()
	resp, err := http.Post(srv.URL+"/v1/query", "application/json",
		strings.NewReader(`{"query":"hi","timeout_ms":3600000}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if d := runner.deadline.Sub(start); d <= 0 || d > 3*time.Second {
		t.Errorf("deadline in %v, want at most the 2s server deadline", d)
	}
}

func TestServer_Timeout(t *testing.T) {
	s := NewServer("", 0, &fakeRunner{}, discardLogger())
	s.SetDeadline(10 * time.Second)
	tests := []struct {
		ms   int64
		want time.Duration
	}{
		{0, 10 * time.Second},
		{1500, 1500 * time.Millisecond},
		{10000, 10 * time.Second},
		{60000, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := s.timeout(tt.ms); got != tt.want {
			t.Errorf("timeout(%d) = %v, want %v", tt.ms, got, tt.want)
		}
	}
}

func TestHandleQuery_GeneratesCallerID(t *testing.T) {
	runner := &fakeRunner{}
	_, srv := newTestServer(t, runner)

	resp, err := http.Post(srv.URL+"/v1/query", "application/json", strings.NewReader(`{"query":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	id := resp.Header.Get(mcp.HeaderCallerID)
	if len(id) != 20 || runner.last().CallerID != id {
		t.Errorf("caller id = %q, runner saw %q", id, runner.last().CallerID)
	}
}

func TestHandleQuery_BadRequests(t *testing.T) {
	_, srv := newTestServer(t, &fakeRunner{})
	tests := []struct {
		name string
		body string
		want string
	}{
		{"not json", `{"query":`, "invalid request body"},
		{"negative top_k", `{"query":"x","top_k":-1}`, "top_k"},
		{"negative timeout", `{"query":"x","timeout_ms":-5}`, "timeout_ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/v1/query", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), tt.want) {
				t.Errorf("got %d %s, want 400 containing %q", resp.StatusCode, body, tt.want)
			}
		})
	}
}

func TestHandleStream(t *testing.T) {
	runner := &fakeRunner{}
	_, srv := newTestServer(t, runner)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/query/stream?q=plot+this&top_k=2"
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{mcp.HeaderCallerID: []string{"ws-caller"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.Header.Get(mcp.HeaderCallerID) != "ws-caller" {
		t.Errorf("handshake caller = %q", resp.Header.Get(mcp.HeaderCallerID))
	}

	var states []orchestrator.State
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type == "result" {
			if msg.Result == nil || msg.Result.Query != "plot this" {
				t.Errorf("result = %+v", msg.Result)
			}
			break
		}
		if msg.Event == nil || msg.Event.Final != nil {
			t.Fatalf("event frame = %+v", msg)
		}
		states = append(states, msg.Event.State)
	}
	want := []orchestrator.State{orchestrator.StateIdle, orchestrator.StateSelecting, orchestrator.StateDone}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %q, want %q", i, states[i], want[i])
		}
	}
	if q := runner.last(); q.TopK != 2 || q.CallerID != "ws-caller" {
		t.Errorf("query = %+v", q)
	}
}

func TestHandleStream_BadParams(t *testing.T) {
	_, srv := newTestServer(t, &fakeRunner{})
	resp, err := http.Get(srv.URL + "/v1/query/stream?q=x&top_k=abc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleTools(t *testing.T) {
	reg, err := registry.New(map[string]string{
		registry.Calculator: "http://calc:8000",
		registry.Plot:       "http://plot:8001",
	})
	if err != nil {
		t.Fatal(err)
	}
	s, srv := newTestServer(t, &fakeRunner{})
	s.SetTools(reg.Endpoints())
	s.SetHealth(fakeHealth{registry.Calculator: {Name: registry.Calculator, Ready: true, Checks: 2}})

	resp, err := http.Get(srv.URL + "/v1/tools")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Tools) != 2 {
		t.Fatalf("tools = %+v", body.Tools)
	}
	calc, plot := body.Tools[0], body.Tools[1]
	if calc.Name != registry.Calculator || calc.URL != "http://calc:8000/mcp/calculate" {
		t.Errorf("calculator = %+v", calc)
	}
	if calc.Health == nil || !calc.Health.Ready {
		t.Errorf("calculator health = %+v", calc.Health)
	}
	if plot.Health != nil {
		t.Errorf("plot health = %+v, want none", plot.Health)
	}

	// Handler is built once; health and version share it.
	resp2, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	var health map[string]any
	json.NewDecoder(resp2.Body).Decode(&health)
	if health["status"] != "healthy" || health["tools_ready"] != float64(1) {
		t.Errorf("health = %v", health)
	}
}

func TestMetricsRoute(t *testing.T) {
	s := NewServer("", 0, &fakeRunner{}, discardLogger())
	s.SetMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ragent_queries_total 0\n"))
	}))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "ragent_queries_total") {
		t.Errorf("metrics body = %q", body)
	}
}

// TestQueryEndToEnd runs a real orchestrator against the reference
// tools behind the API.
func TestQueryEndToEnd(t *testing.T) {
	tools := httptest.NewServer(toolserver.NewServer("", 0, discardLogger(),
		toolserver.Calculator{}, toolserver.Plotter{}).Handler())
	defer tools.Close()

	reg, err := registry.New(map[string]string{
		registry.Calculator: tools.URL,
		registry.Plot:       tools.URL,
	})
	if err != nil {
		t.Fatal(err)
	}
	orch := orchestrator.New(orchestrator.Options{
		Invoker: mcp.NewClient(mcp.Options{Logger: discardLogger()}),
		Tools:   reg,
		Logger:  discardLogger(),
	})
	_, srv := newTestServer(t, orch)

	resp, err := http.Post(srv.URL+"/v1/query", "application/json", strings.NewReader(`{"query":"calculate 5 + 3 * 2"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var res orchestrator.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if len(res.ToolResults) != 1 || !res.ToolResults[0].OK() {
		t.Fatalf("tool results = %+v", res.ToolResults)
	}
	var calc toolserver.Calculation
	if err := json.Unmarshal(res.ToolResults[0].Success.Payload, &calc); err != nil {
		t.Fatal(err)
	}
	if calc.Value != 11 {
		t.Errorf("value = %v, want 11", calc.Value)
	}
}
