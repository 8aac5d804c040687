package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxprep/voxprep/internal/ids"
	"github.com/voxprep/voxprep/pkg/core"
	"github.com/voxprep/voxprep/pkg/core/types"
	"github.com/voxprep/voxprep/pkg/core/voice"
	"github.com/voxprep/voxprep/pkg/gateway/auth"
	"github.com/voxprep/voxprep/pkg/gateway/config"
	"github.com/voxprep/voxprep/pkg/gateway/lifecycle"
	"github.com/voxprep/voxprep/pkg/gateway/live/protocol"
	"github.com/voxprep/voxprep/pkg/gateway/live/session"
	"github.com/voxprep/voxprep/pkg/gateway/live/sessions"
	"github.com/voxprep/voxprep/pkg/gateway/mw"
	"github.com/voxprep/voxprep/pkg/gateway/ratelimit"
)

// InterviewLoader loads the interview a live call runs against.
type InterviewLoader interface {
	InterviewByID(ctx context.Context, id string) (*types.Interview, error)
}

// LiveHandler upgrades /v1/live requests and runs one call session per
// connection. The caller must already be signed in; the first frame after the
// upgrade must be the hello that picks the call mode.
type LiveHandler struct {
	Config       config.Config
	Logger       *slog.Logger
	Voice        session.Starter
	Scoring      session.Scorer
	Store        InterviewLoader
	Limiter      *ratelimit.Limiter
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Registry
}

const interviewerSystemPrompt = `You are a professional job interviewer conducting a real-time voice interview with a candidate. Your goal is to assess their qualifications, motivation, and fit for the role.

Follow the structured question flow:
{{questions}}

Engage naturally and react appropriately. Listen actively to responses and acknowledge them before moving forward. Ask brief follow-up questions if a response is vague or requires more detail. Keep the conversation flowing smoothly while maintaining control. Be professional, yet warm and welcoming.

Keep all your responses short and simple. Use official yet friendly language. The questions will be read aloud, so never use special characters or markup.`

// interviewerFor builds the inline agent definition for an interview-mode
// call. The rendered question list rides in variableValues so the platform
// substitutes it into the prompt template.
func interviewerFor(interview *types.Interview) voice.StartOptions {
	return voice.StartOptions{
		Interviewer: &voice.InterviewerConfig{
			Name:         "Interviewer",
			Model:        "gpt-4o",
			Voice:        "sarah",
			FirstMessage: "Hello! Thank you for taking the time to speak with me today. I'm excited to learn more about you and your experience.",
			SystemPrompt: interviewerSystemPrompt,
		},
		VariableValues: map[string]string{
			"questions": types.RenderQuestions(interview.Questions),
		},
	}
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, reqID)
		return
	}
	if h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:      core.ErrOverloaded,
			Message:   "server is draining",
			Code:      "draining",
			RequestID: reqID,
		}, 529)
		return
	}
	user, ok := auth.UserFrom(r.Context())
	if !ok {
		writeUnauthorized(w, reqID)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: h.originAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	handshakeTimeout := h.Config.LiveHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello")
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello")
		return
	}
	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		code, message := "bad_request", "invalid hello frame"
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			code, message = de.Code, de.Error()
		}
		h.writeWSError(conn, code, message)
		return
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello")
		return
	}

	if h.Limiter != nil && h.Config.LiveMaxSessionsPerUser > 0 {
		dec := h.Limiter.AcquireSession(ratelimit.KeyFromUserID(user.ID), time.Now())
		if !dec.Allowed {
			h.writeWSError(conn, "rate_limited", "too many active live sessions")
			return
		}
		defer dec.Permit.Release()
	}

	var start voice.StartOptions
	switch hello.Mode {
	case protocol.ModeGenerate:
		start = voice.StartOptions{
			WorkflowID: h.Config.VoiceWorkflowID,
			VariableValues: map[string]string{
				"username": user.Name,
				"userid":   user.ID,
			},
		}
	case protocol.ModeInterview:
		interview, err := h.Store.InterviewByID(r.Context(), hello.InterviewID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				h.writeWSError(conn, "not_found", "interview not found")
				return
			}
			if h.Logger != nil {
				h.Logger.Error("interview lookup failed", "request_id", reqID, "interview_id", hello.InterviewID, "error", err)
			}
			h.writeWSError(conn, "internal", "failed to load interview")
			return
		}
		start = interviewerFor(interview)
	}

	sessionID := ids.NewWithPrefix("sess")
	ack := protocol.ServerHelloAck{
		Type:        "hello_ack",
		SessionID:   sessionID,
		Mode:        hello.Mode,
		InterviewID: hello.InterviewID,
	}
	if err := conn.WriteJSON(ack); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	s, err := session.New(session.Dependencies{
		Conn:      conn,
		Logger:    h.Logger,
		Voice:     h.Voice,
		Scorer:    h.Scoring,
		Hello:     hello,
		Start:     start,
		SessionID: sessionID,
		RequestID: reqID,
		UserID:    user.ID,
		Config: session.Config{
			MaxJSONMessageBytes: h.Config.LiveMaxJSONMessageBytes,
			MaxSessionDuration:  h.Config.LiveMaxSessionDuration,
			WriteTimeout:        h.Config.LiveWSWriteTimeout,
			ScoreTimeout:        h.Config.ScoreTimeout,
		},
	})
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize live session")
		return
	}

	remove := func() {}
	if h.LiveSessions != nil {
		remove = h.LiveSessions.Add(sessionID, s)
	}
	defer remove()

	if err := s.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live session ended with error", "session_id", sessionID, "request_id", reqID, "error", err)
		}
	}
}

// originAllowed mirrors the CORS allowlist for the websocket upgrade. Requests
// without an Origin header (non-browser clients) are allowed.
func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message string) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Code: code, Message: message, Close: true})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}
