// Package voice implements the websocket client for the hosted voice-agent
// platform that runs interview calls. The platform owns audio, turn-taking,
// and transcription; this client starts a call, streams its events, and
// requests teardown. There is no reconnect: a dropped channel surfaces
// through Err() and the caller starts over.
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const defaultConnectTimeout = 15 * time.Second

// Transcript sub-kinds reported by the platform. Only final fragments are
// meaningful to callers; partials exist for UI preview and are discarded.
const (
	TranscriptPartial = "partial"
	TranscriptFinal   = "final"
)

// Event is an event emitted by Call.Events().
type Event interface {
	eventType() string
}

// CallStartEvent reports that the platform connected the call.
type CallStartEvent struct{}

func (CallStartEvent) eventType() string { return "call-start" }

// CallEndEvent reports that the call ended. It is the authoritative terminal
// event for a call.
type CallEndEvent struct {
	Reason string
}

func (CallEndEvent) eventType() string { return "call-end" }

// SpeechStartEvent reports that the agent began speaking.
type SpeechStartEvent struct{}

func (SpeechStartEvent) eventType() string { return "speech-start" }

// SpeechEndEvent reports that the agent stopped speaking.
type SpeechEndEvent struct{}

func (SpeechEndEvent) eventType() string { return "speech-end" }

// TranscriptEvent carries one transcript fragment.
type TranscriptEvent struct {
	Role           string
	TranscriptType string
	Text           string
}

func (TranscriptEvent) eventType() string { return "transcript" }

// Final reports whether this fragment is a committed utterance.
func (e TranscriptEvent) Final() bool { return e.TranscriptType == TranscriptFinal }

// ErrorEvent carries a platform-reported channel error. Errors do not end
// the call; call-end does.
type ErrorEvent struct {
	Code    string
	Message string
}

func (ErrorEvent) eventType() string { return "error" }

// UnknownEvent preserves frames this client does not understand.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) eventType() string { return e.Type }

// InterviewerConfig is the inline agent definition used for interview-mode
// calls (generate-mode calls reference a hosted workflow instead).
type InterviewerConfig struct {
	Name         string `json:"name"`
	Model        string `json:"model"`
	Voice        string `json:"voice"`
	FirstMessage string `json:"firstMessage"`
	SystemPrompt string `json:"systemPrompt"`
}

// StartOptions configures one call. Exactly one of WorkflowID or Interviewer
// must be set.
type StartOptions struct {
	WorkflowID     string
	Interviewer    *InterviewerConfig
	VariableValues map[string]string
}

// startFrame is the first client frame on the wire. The platform API is
// JSON with camelCase keys.
type startFrame struct {
	Type           string             `json:"type"`
	WorkflowID     string             `json:"workflowId,omitempty"`
	Interviewer    *InterviewerConfig `json:"interviewerConfig,omitempty"`
	VariableValues map[string]string  `json:"variableValues,omitempty"`
}

type controlFrame struct {
	Type string `json:"type"`
}

// Client dials the voice platform. It is cheap and safe to share.
type Client struct {
	url            string
	apiKey         string
	dialer         *websocket.Dialer
	connectTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithDialer overrides the websocket dialer (tests).
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithConnectTimeout bounds the dial+handshake when the caller's context has
// no deadline of its own.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// NewClient creates a platform client for the given websocket URL.
func NewClient(url, apiKey string, opts ...Option) *Client {
	c := &Client{
		url:            strings.TrimSpace(url),
		apiKey:         strings.TrimSpace(apiKey),
		dialer:         websocket.DefaultDialer,
		connectTimeout: defaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{}
	}
	return c
}

// Start dials the platform, sends the start frame, and waits for the
// platform to accept the call. Events stream on the returned Call until
// call-end or teardown.
func (c *Client) Start(ctx context.Context, opts StartOptions) (*Call, error) {
	if c == nil {
		return nil, fmt.Errorf("client must not be nil")
	}
	if c.url == "" {
		return nil, fmt.Errorf("platform url must not be empty")
	}
	if err := validateStartOptions(opts); err != nil {
		return nil, err
	}

	headers := make(http.Header)
	if c.apiKey != "" {
		headers.Set("Authorization", "Bearer "+c.apiKey)
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, c.connectTimeout)
		defer cancel()
	}

	conn, resp, err := c.dialer.DialContext(dialCtx, c.url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial voice platform (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial voice platform: %w", err)
	}

	frame := startFrame{
		Type:           "start",
		WorkflowID:     opts.WorkflowID,
		Interviewer:    opts.Interviewer,
		VariableValues: opts.VariableValues,
	}
	if err := conn.WriteJSON(frame); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send start frame: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.connectTimeout))
	messageType, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read start ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if messageType != websocket.TextMessage {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first frame type %d", messageType)
	}

	var ack struct {
		Type    string `json:"type"`
		CallID  string `json:"callId"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &ack); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("decode start ack: %w", err)
	}
	switch ack.Type {
	case "started":
		call := &Call{
			id:      ack.CallID,
			conn:    conn,
			events:  make(chan Event, 64),
			done:    make(chan struct{}),
			closing: make(chan struct{}),
		}
		go call.readLoop()
		return call, nil
	case "error":
		_ = conn.Close()
		return nil, fmt.Errorf("voice platform rejected call: %s (%s)", ack.Message, ack.Code)
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first frame type %q", ack.Type)
	}
}

func validateStartOptions(opts StartOptions) error {
	hasWorkflow := strings.TrimSpace(opts.WorkflowID) != ""
	hasInterviewer := opts.Interviewer != nil
	if hasWorkflow == hasInterviewer {
		return fmt.Errorf("exactly one of WorkflowID or Interviewer must be set")
	}
	if hasInterviewer && strings.TrimSpace(opts.Interviewer.SystemPrompt) == "" {
		return fmt.Errorf("interviewer system prompt must not be empty")
	}
	return nil
}

// Call is one live platform call.
type Call struct {
	id   string
	conn *websocket.Conn

	events  chan Event
	done    chan struct{}
	closing chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// ID returns the platform-assigned call identifier.
func (s *Call) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Events yields call events until the call ends. The channel is closed when
// the read loop exits.
func (s *Call) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

// Stop asks the platform to end the call. The platform answers with
// call-end and then closes the channel.
func (s *Call) Stop() error {
	return s.sendJSON(controlFrame{Type: "stop"})
}

func (s *Call) sendJSON(v any) error {
	if s == nil {
		return fmt.Errorf("call must not be nil")
	}
	if s.closed.Load() {
		return fmt.Errorf("call is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close tears the connection down and waits for the read loop to exit.
func (s *Call) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closing)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// Err returns the terminal transport error, if any. It blocks until the read
// loop has exited.
func (s *Call) Err() error {
	if s == nil {
		return nil
	}
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Call) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Call) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || s.closed.Load() {
				return
			}
			s.setErr(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		event, err := decodeFrame(data)
		if err != nil {
			s.setErr(err)
			return
		}
		if event != nil {
			s.emit(event)
		}
	}
}

// emit delivers in order; it blocks rather than dropping, since dropped
// final transcripts would corrupt the accumulated transcript. Teardown via
// closing unblocks a stalled send.
func (s *Call) emit(event Event) {
	select {
	case s.events <- event:
	case <-s.closing:
	}
}

func decodeFrame(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("frame missing type")
	}

	switch typ {
	case "call-start":
		return CallStartEvent{}, nil
	case "call-end":
		var frame struct {
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode call-end: %w", err)
		}
		return CallEndEvent{Reason: frame.Reason}, nil
	case "speech-start":
		return SpeechStartEvent{}, nil
	case "speech-end":
		return SpeechEndEvent{}, nil
	case "transcript":
		var frame struct {
			Role           string `json:"role"`
			TranscriptType string `json:"transcriptType"`
			Transcript     string `json:"transcript"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode transcript: %w", err)
		}
		return TranscriptEvent{
			Role:           frame.Role,
			TranscriptType: frame.TranscriptType,
			Text:           frame.Transcript,
		}, nil
	case "error":
		var frame struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode error frame: %w", err)
		}
		return ErrorEvent{Code: frame.Code, Message: frame.Message}, nil
	default:
		return UnknownEvent{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
