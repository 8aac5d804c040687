// Package session runs one interview call per /v1/live websocket connection.
// A session moves through inactive, connecting, active, and finished; the
// voice platform owns the audio leg while this loop owns the transcript and
// decides when the feedback pipeline runs.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxprep/voxprep/pkg/core"
	"github.com/voxprep/voxprep/pkg/core/types"
	"github.com/voxprep/voxprep/pkg/core/voice"
	"github.com/voxprep/voxprep/pkg/gateway/live/protocol"
)

type Config struct {
	MaxJSONMessageBytes int64
	MaxSessionDuration  time.Duration
	WriteTimeout        time.Duration

	// Budget for the feedback pipeline once the call has finished. The
	// pipeline runs on its own context so teardown cannot abort it.
	ScoreTimeout time.Duration
}

// Starter dials the voice platform and hands back a live call.
type Starter interface {
	Start(ctx context.Context, opts voice.StartOptions) (*voice.Call, error)
}

// Scorer is the feedback pipeline boundary.
type Scorer interface {
	Generate(ctx context.Context, interviewID, userID string, transcript []types.TranscriptMessage) types.FeedbackResult
}

type Dependencies struct {
	Conn      *websocket.Conn
	Logger    *slog.Logger
	Voice     Starter
	Scorer    Scorer
	Hello     protocol.ClientHello
	Start     voice.StartOptions
	SessionID string
	RequestID string
	UserID    string
	Config    Config
}

// CallSession owns one live call. All state is mutated by the Run goroutine;
// Cancel and SendWarning are the only safe entry points from outside.
type CallSession struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	voice     Starter
	scorer    Scorer
	hello     protocol.ClientHello
	start     voice.StartOptions
	sessionID string
	requestID string
	userID    string
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	stateMu sync.Mutex
	state   string
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

type dialResult struct {
	call *voice.Call
	err  error
}

func New(deps Dependencies) (*CallSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Voice == nil {
		return nil, fmt.Errorf("voice starter is required")
	}
	if err := protocol.ValidateHello(deps.Hello); err != nil {
		return nil, err
	}
	if deps.Hello.Mode != protocol.ModeGenerate && deps.Scorer == nil {
		return nil, fmt.Errorf("scorer is required for %s mode", deps.Hello.Mode)
	}
	if deps.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CallSession{
		conn:      deps.Conn,
		logger:    deps.Logger,
		voice:     deps.Voice,
		scorer:    deps.Scorer,
		hello:     deps.Hello,
		start:     deps.Start,
		sessionID: deps.SessionID,
		requestID: deps.RequestID,
		userID:    deps.UserID,
		cfg:       deps.Config,
		ctx:       ctx,
		cancel:    cancel,
		state:     protocol.StateInactive,
	}, nil
}

// Cancel tears the session down. Used by the registry on shutdown.
func (s *CallSession) Cancel() {
	s.cancel()
}

// SendWarning pushes a warning frame to the browser. Safe from any goroutine.
func (s *CallSession) SendWarning(code, message string) error {
	return s.sendJSON(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

// State reports the current lifecycle state.
func (s *CallSession) State() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *CallSession) setState(state string) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

func (s *CallSession) sendJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return s.conn.WriteJSON(v)
}

func (s *CallSession) sendStatus(state string, speaking *bool) error {
	return s.sendJSON(protocol.ServerStatus{Type: "status", State: state, IsSpeaking: speaking})
}

func (s *CallSession) sendFrameError(code, message string) error {
	return s.sendJSON(protocol.ServerError{Type: "error", Code: code, Message: message})
}

func boolp(b bool) *bool {
	return &b
}

// Run drives the call to completion. It returns nil when the call ended (or
// the browser went away) and an error only when the browser channel itself
// broke mid-write.
func (s *CallSession) Run() error {
	defer s.cancel()

	if s.cfg.MaxJSONMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxJSONMessageBytes)
	}

	readCh := make(chan inboundFrame, 16)
	go s.readLoop(readCh)

	var sessionTimer *time.Timer
	if s.cfg.MaxSessionDuration > 0 {
		sessionTimer = time.NewTimer(s.cfg.MaxSessionDuration)
		defer sessionTimer.Stop()
	}
	sessionTimerCh := func() <-chan time.Time {
		if sessionTimer == nil {
			return nil
		}
		return sessionTimer.C
	}

	// The dial runs on its own goroutine with its own cancel so a stop frame
	// is honored while the platform handshake is still in flight.
	s.setState(protocol.StateConnecting)
	if err := s.sendStatus(protocol.StateConnecting, nil); err != nil {
		return err
	}
	dialCtx, cancelDial := context.WithCancel(s.ctx)
	defer cancelDial()
	dialCh := make(chan dialResult, 1)
	go func() {
		call, err := s.voice.Start(dialCtx, s.start)
		dialCh <- dialResult{call: call, err: err}
	}()

	var (
		call       *voice.Call
		events     <-chan voice.Event
		transcript []types.TranscriptMessage
		isSpeaking bool
		stopped    bool
		finished   bool
	)
	dialArm := dialCh
	dialPending := true
	defer func() {
		if call != nil {
			_ = call.Close()
		}
		if dialPending {
			// The dial goroutine is bounded by dialCtx; reap whatever call it
			// may still produce so the platform side gets hung up.
			go func() {
				if r := <-dialCh; r.call != nil {
					_ = r.call.Close()
				}
			}()
		}
	}()

	hangup := func() {
		if call == nil {
			return
		}
		_ = call.Stop()
		_ = call.Close()
		call = nil
		events = nil
	}

	// finish moves the session to its terminal state, runs the feedback
	// pipeline when the call qualifies, and relays the outcome. It runs at
	// most once; every caller returns right after.
	finish := func(reason string) error {
		if finished {
			return nil
		}
		finished = true
		s.setState(protocol.StateFinished)
		if err := s.sendStatus(protocol.StateFinished, nil); err != nil {
			return err
		}
		if s.hello.Mode != protocol.ModeGenerate && len(transcript) > 0 {
			result := s.runFeedback(transcript)
			if err := s.sendJSON(protocol.ServerFeedbackResult{
				Type:       "feedback_result",
				Success:    result.Success,
				FeedbackID: result.FeedbackID,
			}); err != nil {
				return err
			}
		}
		s.logger.Info("live call finished",
			"session_id", s.sessionID,
			"request_id", s.requestID,
			"mode", s.hello.Mode,
			"reason", reason,
			"transcript_len", len(transcript))
		return nil
	}

	for {
		select {
		case <-s.ctx.Done():
			hangup()
			return nil

		case r := <-dialArm:
			dialArm = nil
			dialPending = false
			if r.err != nil {
				if stopped || errors.Is(r.err, context.Canceled) {
					return finish("stopped")
				}
				cerr := &core.ChannelError{Op: "start", Err: r.err}
				s.logger.Error("voice channel start failed",
					"session_id", s.sessionID,
					"request_id", s.requestID,
					"error", cerr)
				_ = s.SendWarning("channel_error", "could not reach the voice platform")
				return finish("start_failed")
			}
			call = r.call
			events = call.Events()
			if stopped {
				hangup()
				return finish("stopped")
			}

		case frame, ok := <-readCh:
			if !ok {
				hangup()
				return nil
			}
			if frame.err != nil {
				s.logger.Info("browser channel closed",
					"session_id", s.sessionID,
					"request_id", s.requestID,
					"error", frame.err)
				hangup()
				return nil
			}
			if frame.messageType != websocket.TextMessage {
				if err := s.sendFrameError("bad_request", "binary frames are not supported"); err != nil {
					return err
				}
				continue
			}
			msg, decErr := protocol.DecodeClientMessage(frame.data)
			if decErr != nil {
				code := "bad_request"
				var de *protocol.DecodeError
				if errors.As(decErr, &de) {
					code = de.Code
				}
				if err := s.sendFrameError(code, decErr.Error()); err != nil {
					return err
				}
				continue
			}
			switch msg.(type) {
			case protocol.ClientHello:
				if err := s.sendFrameError("bad_request", "hello already received"); err != nil {
					return err
				}
			case protocol.ClientControl:
				if finished {
					continue
				}
				stopped = true
				if call != nil {
					hangup()
					return finish("stopped")
				}
				// Still dialing; abandon the handshake and finish now.
				cancelDial()
				return finish("stopped")
			}

		case ev, ok := <-events:
			if !ok {
				// Transport dropped without a call-end. The call cannot
				// continue, so it is over de facto.
				events = nil
				if err := call.Err(); err != nil {
					cerr := &core.ChannelError{Op: "read", Err: err}
					s.logger.Error("voice channel lost",
						"session_id", s.sessionID,
						"request_id", s.requestID,
						"error", cerr)
					_ = s.SendWarning("channel_error", "voice channel lost")
				}
				_ = call.Close()
				call = nil
				return finish("channel_lost")
			}
			switch e := ev.(type) {
			case voice.CallStartEvent:
				s.setState(protocol.StateActive)
				if err := s.sendStatus(protocol.StateActive, boolp(isSpeaking)); err != nil {
					return err
				}
			case voice.CallEndEvent:
				hangup()
				return finish("call_end")
			case voice.SpeechStartEvent:
				isSpeaking = true
				if err := s.sendStatus(protocol.StateActive, boolp(true)); err != nil {
					return err
				}
			case voice.SpeechEndEvent:
				isSpeaking = false
				if err := s.sendStatus(protocol.StateActive, boolp(false)); err != nil {
					return err
				}
			case voice.TranscriptEvent:
				if !e.Final() {
					continue
				}
				transcript = append(transcript, types.TranscriptMessage{Role: e.Role, Content: e.Text})
				if err := s.sendJSON(protocol.ServerTranscript{Type: "transcript", Role: e.Role, Text: e.Text}); err != nil {
					return err
				}
			case voice.ErrorEvent:
				cerr := &core.ChannelError{Op: "event", Err: fmt.Errorf("%s: %s", e.Code, e.Message)}
				s.logger.Warn("voice channel error",
					"session_id", s.sessionID,
					"request_id", s.requestID,
					"error", cerr)
				_ = s.SendWarning("channel_error", "voice channel reported an error")
			}

		case <-sessionTimerCh():
			_ = s.SendWarning("session_timeout", "maximum session duration reached")
			cancelDial()
			hangup()
			return finish("timeout")
		}
	}
}

// runFeedback invokes the pipeline on a context detached from the session so
// teardown cannot abort a run already owed to the user.
func (s *CallSession) runFeedback(transcript []types.TranscriptMessage) types.FeedbackResult {
	ctx := context.Background()
	if s.cfg.ScoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ScoreTimeout)
		defer cancel()
	}
	return s.scorer.Generate(ctx, s.hello.InterviewID, s.userID, transcript)
}

func (s *CallSession) readLoop(readCh chan<- inboundFrame) {
	defer close(readCh)
	for {
		messageType, data, err := s.conn.ReadMessage()
		select {
		case readCh <- inboundFrame{messageType: messageType, data: data, err: err}:
		case <-s.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
