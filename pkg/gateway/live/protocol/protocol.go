// Package protocol defines the JSON frames exchanged with browsers over the
// /v1/live websocket. The channel carries call lifecycle and transcript
// traffic only; audio stays between the browser and the voice platform.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ModeInterview = "interview"
	ModeGenerate  = "generate"
)

// Call lifecycle states reported in status frames.
const (
	StateInactive   = "inactive"
	StateConnecting = "connecting"
	StateActive     = "active"
	StateFinished   = "finished"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ClientHello is the first frame a browser sends after the upgrade. The mode
// decides what the call does when it ends: interview calls feed the feedback
// pipeline, generate calls never do.
type ClientHello struct {
	Type        string `json:"type"`
	Mode        string `json:"mode"`
	InterviewID string `json:"interview_id,omitempty"`
}

type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		msg.Mode = strings.TrimSpace(msg.Mode)
		msg.InterviewID = strings.TrimSpace(msg.InterviewID)
		return msg, nil
	case "control":
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control", "")
		}
		op := strings.TrimSpace(msg.Op)
		if op == "" {
			return nil, badRequest("control.op is required", "op")
		}
		switch op {
		case "stop":
		default:
			return nil, unsupported("unsupported control operation", "op")
		}
		msg.Op = op
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

func ValidateHello(msg ClientHello) error {
	mode := strings.TrimSpace(msg.Mode)
	if mode == "" {
		return badRequest("hello.mode is required", "mode")
	}
	switch mode {
	case ModeInterview:
		if strings.TrimSpace(msg.InterviewID) == "" {
			return badRequest("hello.interview_id is required in interview mode", "interview_id")
		}
	case ModeGenerate:
		if strings.TrimSpace(msg.InterviewID) != "" {
			return badRequest("hello.interview_id is only valid in interview mode", "interview_id")
		}
	default:
		return unsupported("unsupported mode", "mode")
	}
	return nil
}

type ServerHelloAck struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	Mode        string `json:"mode"`
	InterviewID string `json:"interview_id,omitempty"`
}

// ServerStatus reports a state change. IsSpeaking is carried only while the
// call is active.
type ServerStatus struct {
	Type       string `json:"type"`
	State      string `json:"state"`
	IsSpeaking *bool  `json:"is_speaking,omitempty"`
}

// ServerTranscript relays one committed utterance, in receipt order.
type ServerTranscript struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// ServerFeedbackResult reports the outcome of the feedback pipeline after an
// interview call finishes. FeedbackID is set only on success.
type ServerFeedbackResult struct {
	Type       string `json:"type"`
	Success    bool   `json:"success"`
	FeedbackID string `json:"feedback_id,omitempty"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}
