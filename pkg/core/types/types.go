// Package types defines the domain model shared across the identity, session,
// call, scoring, and storage layers. Structs here are data-only; behavior
// lives with the packages that own each flow.
package types

import (
	"strings"
	"time"
)

// User is a profile row mirrored from the identity provider at sign-up.
// ID is the provider-issued subject and never changes.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Plan  string `json:"plan,omitempty"`
}

// Plan values for User.Plan.
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// Interview is a generated question set a user can take a call against.
// Rows are created by the intake webhook and never mutated afterwards.
type Interview struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Role       string    `json:"role"`
	Type       string    `json:"type"`
	Level      string    `json:"level"`
	Techstack  []string  `json:"techstack"`
	Questions  []string  `json:"questions"`
	Finalized  bool      `json:"finalized"`
	CoverImage string    `json:"coverImage,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Transcript roles reported by the voice channel.
const (
	RoleUser      = "user"
	RoleSystem    = "system"
	RoleAssistant = "assistant"
)

// ValidRole reports whether role is one of the three transcript roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleSystem, RoleAssistant:
		return true
	default:
		return false
	}
}

// TranscriptMessage is one finalized utterance from a call. The sequence is
// append-only for the lifetime of a call and discarded after scoring.
type TranscriptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RenderTranscript renders a transcript the way the scoring prompt expects:
// one "- role: content" line per message, in order.
func RenderTranscript(messages []TranscriptMessage) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// RenderQuestions renders an interview's question list for the voice channel:
// one "- <question>" line per entry, newline-joined.
func RenderQuestions(questions []string) string {
	lines := make([]string, 0, len(questions))
	for _, q := range questions {
		lines = append(lines, "- "+q)
	}
	return strings.Join(lines, "\n")
}

// Feedback is one scored assessment of a call transcript. Records are
// immutable after creation; uniqueness per (interviewId, userId) is a
// read-time convention, not a write-time constraint.
type Feedback struct {
	ID                  string             `json:"id"`
	InterviewID         string             `json:"interviewId"`
	UserID              string             `json:"userId"`
	TotalScore          float64            `json:"totalScore"`
	CategoryScores      map[string]float64 `json:"categoryScores"`
	Strengths           []string           `json:"strengths"`
	AreasForImprovement []string           `json:"areasForImprovement"`
	FinalAssessment     string             `json:"finalAssessment"`
	CreatedAt           time.Time          `json:"createdAt"`
}

// FeedbackResult is the boundary shape for a feedback pipeline run. Failure
// causes are not distinguished to the caller.
type FeedbackResult struct {
	Success    bool   `json:"success"`
	FeedbackID string `json:"feedbackId,omitempty"`
}
