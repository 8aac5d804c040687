package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxprep/voxprep/pkg/core/types"
	"github.com/voxprep/voxprep/pkg/core/voice"
	"github.com/voxprep/voxprep/pkg/gateway/lifecycle"
	"github.com/voxprep/voxprep/pkg/gateway/live/sessions"
	"github.com/voxprep/voxprep/pkg/gateway/ratelimit"
)

// newVoicePlatform runs a scripted platform endpoint and returns its ws URL
// plus a channel carrying each call's decoded start frame.
func newVoicePlatform(t *testing.T, script func(conn *websocket.Conn)) (string, <-chan map[string]any) {
	t.Helper()
	starts := make(chan map[string]any, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("platform upgrade: %v", err)
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read start frame: %v", err)
			return
		}
		var start map[string]any
		if err := json.Unmarshal(data, &start); err != nil {
			t.Errorf("decode start frame %q: %v", data, err)
			return
		}
		starts <- start
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), starts
}

// scriptShortCall accepts the call, emits one final transcript, and ends it.
func scriptShortCall(conn *websocket.Conn) {
	send := func(v any) { _ = conn.WriteJSON(v) }
	send(map[string]any{"type": "started", "callId": "call_1"})
	send(map[string]any{"type": "call-start"})
	send(map[string]any{"type": "transcript", "role": "assistant", "transcriptType": "final", "transcript": "Tell me about a service you own."})
	send(map[string]any{"type": "call-end", "reason": "complete"})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

type liveScorer struct {
	mu     sync.Mutex
	result types.FeedbackResult

	calls          int
	gotInterviewID string
	gotUserID      string
}

func (f *liveScorer) Generate(ctx context.Context, interviewID, userID string, transcript []types.TranscriptMessage) types.FeedbackResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotInterviewID, f.gotUserID = interviewID, userID
	return f.result
}

func (f *liveScorer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *liveScorer) lastCall() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gotInterviewID, f.gotUserID
}

func newLiveHandler(platformURL string, store InterviewLoader, scorer *liveScorer) LiveHandler {
	return LiveHandler{
		Config:  newTestConfig(),
		Logger:  discardLogger(),
		Voice:   voice.NewClient(platformURL, "vk_test", voice.WithConnectTimeout(2*time.Second)),
		Scoring: scorer,
		Store:   store,
	}
}

// serveLive exposes the handler behind a real listener with the caller
// identity injected the way the session middleware would.
func serveLive(t *testing.T, h LiveHandler, user *types.User) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, withCaller(r, user))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialLive(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial live endpoint: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readLiveFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read server frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode server frame %q: %v", data, err)
	}
	return frame
}

func wantLiveStatus(t *testing.T, frame map[string]any, state string) {
	t.Helper()
	if frame["type"] != "status" || frame["state"] != state {
		t.Fatalf("frame = %v, want status %q", frame, state)
	}
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestLive_RejectsBeforeUpgrade(t *testing.T) {
	h := LiveHandler{Config: newTestConfig(), Logger: discardLogger()}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withCaller(httptest.NewRequest("POST", "/v1/live", nil), testUser()))
	wantStatus(t, rec.Code, 405)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, withCaller(httptest.NewRequest("GET", "/v1/live", nil), nil))
	wantStatus(t, rec.Code, 401)

	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	h.Lifecycle = lc
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, withCaller(httptest.NewRequest("GET", "/v1/live", nil), testUser()))
	wantStatus(t, rec.Code, 529)
	var body errorBody
	decodeBody(t, rec.Body, &body)
	if body.Error.Code != "draining" {
		t.Fatalf("code = %q, want draining", body.Error.Code)
	}
}

func TestLive_InterviewCallFlow(t *testing.T) {
	platformURL, starts := newVoicePlatform(t, scriptShortCall)
	store := &fakeInterviewStore{interviews: map[string]*types.Interview{
		"itv_1": sampleInterview("itv_1", "user_2"),
	}}
	scorer := &liveScorer{result: types.FeedbackResult{Success: true, FeedbackID: "fb_1"}}
	h := newLiveHandler(platformURL, store, scorer)
	h.LiveSessions = sessions.NewRegistry()

	conn := dialLive(t, serveLive(t, h, testUser()))
	if err := conn.WriteJSON(map[string]any{"type": "hello", "mode": "interview", "interview_id": "itv_1"}); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	ack := readLiveFrame(t, conn)
	if ack["type"] != "hello_ack" || ack["mode"] != "interview" || ack["interview_id"] != "itv_1" {
		t.Fatalf("ack = %v", ack)
	}
	if id, _ := ack["session_id"].(string); !strings.HasPrefix(id, "sess_") {
		t.Fatalf("session id = %v", ack["session_id"])
	}

	wantLiveStatus(t, readLiveFrame(t, conn), "connecting")
	if got := h.LiveSessions.Len(); got != 1 {
		t.Fatalf("registry len = %d, want 1 during the call", got)
	}
	wantLiveStatus(t, readLiveFrame(t, conn), "active")

	frame := readLiveFrame(t, conn)
	if frame["type"] != "transcript" || frame["role"] != "assistant" {
		t.Fatalf("frame = %v, want transcript", frame)
	}
	wantLiveStatus(t, readLiveFrame(t, conn), "finished")
	frame = readLiveFrame(t, conn)
	if frame["type"] != "feedback_result" || frame["success"] != true || frame["feedback_id"] != "fb_1" {
		t.Fatalf("frame = %v, want feedback_result", frame)
	}

	select {
	case start := <-starts:
		if start["type"] != "start" {
			t.Fatalf("start frame = %v", start)
		}
		if _, ok := start["workflowId"]; ok {
			t.Fatalf("interview call must not reference a workflow: %v", start)
		}
		ic, _ := start["interviewerConfig"].(map[string]any)
		if ic == nil || ic["name"] != "Interviewer" {
			t.Fatalf("interviewerConfig = %v", start["interviewerConfig"])
		}
		if prompt, _ := ic["systemPrompt"].(string); !strings.Contains(prompt, "{{questions}}") {
			t.Fatalf("systemPrompt = %q, want the questions placeholder", prompt)
		}
		vars, _ := start["variableValues"].(map[string]any)
		if vars["questions"] != "- Tell me about a service you own." {
			t.Fatalf("questions variable = %v", vars["questions"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("platform never saw a start frame")
	}

	waitFor(t, 2*time.Second, func() bool { return scorer.callCount() == 1 })
	gotInterview, gotUser := scorer.lastCall()
	if gotInterview != "itv_1" || gotUser != "user_1" {
		t.Fatalf("scorer called with (%q, %q)", gotInterview, gotUser)
	}

	waitFor(t, 2*time.Second, func() bool { return h.LiveSessions.Len() == 0 })
}

func TestLive_GenerateModeUsesWorkflow(t *testing.T) {
	platformURL, starts := newVoicePlatform(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"type": "started", "callId": "call_2"})
		_ = conn.WriteJSON(map[string]any{"type": "call-start"})
		_ = conn.WriteJSON(map[string]any{"type": "call-end", "reason": "complete"})
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})
	scorer := &liveScorer{result: types.FeedbackResult{Success: true, FeedbackID: "fb_oops"}}
	h := newLiveHandler(platformURL, &fakeInterviewStore{}, scorer)

	conn := dialLive(t, serveLive(t, h, testUser()))
	if err := conn.WriteJSON(map[string]any{"type": "hello", "mode": "generate"}); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	ack := readLiveFrame(t, conn)
	if ack["type"] != "hello_ack" || ack["mode"] != "generate" {
		t.Fatalf("ack = %v", ack)
	}
	if _, ok := ack["interview_id"]; ok {
		t.Fatalf("ack = %v, interview_id must be omitted", ack)
	}

	wantLiveStatus(t, readLiveFrame(t, conn), "connecting")
	wantLiveStatus(t, readLiveFrame(t, conn), "active")
	wantLiveStatus(t, readLiveFrame(t, conn), "finished")

	// No feedback pipeline in generate mode; the channel just closes.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected frame after finish: %s", data)
	}
	if scorer.callCount() != 0 {
		t.Fatalf("scorer calls = %d, want 0", scorer.callCount())
	}

	select {
	case start := <-starts:
		if start["workflowId"] != "wf_test" {
			t.Fatalf("workflowId = %v", start["workflowId"])
		}
		if _, ok := start["interviewerConfig"]; ok {
			t.Fatalf("generate call must not carry an inline interviewer: %v", start)
		}
		vars, _ := start["variableValues"].(map[string]any)
		if vars["username"] != "Ada Lovelace" || vars["userid"] != "user_1" {
			t.Fatalf("variableValues = %v", vars)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("platform never saw a start frame")
	}
}

func TestLive_FirstFrameMustBeHello(t *testing.T) {
	tests := []struct {
		name     string
		frame    any
		wantCode string
	}{
		{"control first", map[string]any{"type": "control", "op": "stop"}, "bad_request"},
		{"unknown type", map[string]any{"type": "bogus"}, "bad_request"},
		{"hello without mode", map[string]any{"type": "hello"}, "bad_request"},
		{"hello with unsupported mode", map[string]any{"type": "hello", "mode": "video"}, "unsupported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newLiveHandler("ws://127.0.0.1:1", &fakeInterviewStore{}, &liveScorer{})
			conn := dialLive(t, serveLive(t, h, testUser()))

			if err := conn.WriteJSON(tt.frame); err != nil {
				t.Fatalf("write frame: %v", err)
			}
			frame := readLiveFrame(t, conn)
			if frame["type"] != "error" || frame["code"] != tt.wantCode || frame["close"] != true {
				t.Fatalf("frame = %v, want closing %q error", frame, tt.wantCode)
			}
		})
	}
}

func TestLive_UnknownInterview(t *testing.T) {
	h := newLiveHandler("ws://127.0.0.1:1", &fakeInterviewStore{}, &liveScorer{})
	conn := dialLive(t, serveLive(t, h, testUser()))

	if err := conn.WriteJSON(map[string]any{"type": "hello", "mode": "interview", "interview_id": "itv_missing"}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	frame := readLiveFrame(t, conn)
	if frame["type"] != "error" || frame["code"] != "not_found" {
		t.Fatalf("frame = %v, want not_found error", frame)
	}
}

func TestLive_RejectsForeignOrigin(t *testing.T) {
	h := newLiveHandler("ws://127.0.0.1:1", &fakeInterviewStore{}, &liveScorer{})
	url := serveLive(t, h, testUser())

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("dial succeeded with a foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %+v, want 403", resp)
	}
}

func TestLive_AllowsConfiguredOrigin(t *testing.T) {
	platformURL, _ := newVoicePlatform(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"type": "started", "callId": "call_3"})
		_ = conn.WriteJSON(map[string]any{"type": "call-start"})
		_ = conn.WriteJSON(map[string]any{"type": "call-end", "reason": "complete"})
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})
	h := newLiveHandler(platformURL, &fakeInterviewStore{}, &liveScorer{})
	h.Config.CORSAllowedOrigins = map[string]struct{}{"https://app.example.com": {}}
	url := serveLive(t, h, testUser())

	header := http.Header{"Origin": []string{"https://app.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.WriteJSON(map[string]any{"type": "hello", "mode": "generate"}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	if ack := readLiveFrame(t, conn); ack["type"] != "hello_ack" {
		t.Fatalf("ack = %v", ack)
	}
}

func TestLive_PerUserSessionCap(t *testing.T) {
	release := make(chan struct{})
	platformURL, _ := newVoicePlatform(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"type": "started", "callId": "call_hold"})
		_ = conn.WriteJSON(map[string]any{"type": "call-start"})
		<-release
	})
	t.Cleanup(func() { close(release) })

	store := &fakeInterviewStore{interviews: map[string]*types.Interview{
		"itv_1": sampleInterview("itv_1", "user_2"),
	}}
	h := newLiveHandler(platformURL, store, &liveScorer{})
	h.Limiter = ratelimit.New(ratelimit.Config{MaxConcurrentSessions: 1})
	url := serveLive(t, h, testUser())

	hello := map[string]any{"type": "hello", "mode": "interview", "interview_id": "itv_1"}

	first := dialLive(t, url)
	if err := first.WriteJSON(hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	if ack := readLiveFrame(t, first); ack["type"] != "hello_ack" {
		t.Fatalf("ack = %v", ack)
	}
	wantLiveStatus(t, readLiveFrame(t, first), "connecting")
	wantLiveStatus(t, readLiveFrame(t, first), "active")

	second := dialLive(t, url)
	if err := second.WriteJSON(hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	frame := readLiveFrame(t, second)
	if frame["type"] != "error" || frame["code"] != "rate_limited" {
		t.Fatalf("frame = %v, want rate_limited error", frame)
	}

	// Ending the first call frees the slot.
	first.Close()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("session slot was never released")
		}
		third, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		_ = third.WriteJSON(hello)
		frame := readLiveFrame(t, third)
		third.Close()
		if frame["type"] == "hello_ack" {
			return
		}
		if frame["code"] != "rate_limited" {
			t.Fatalf("frame = %v", frame)
		}
		time.Sleep(25 * time.Millisecond)
	}
}
