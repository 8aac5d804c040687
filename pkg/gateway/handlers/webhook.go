package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/voxprep/voxprep/internal/ids"
	"github.com/voxprep/voxprep/pkg/core"
	"github.com/voxprep/voxprep/pkg/core/scoring"
	"github.com/voxprep/voxprep/pkg/core/types"
	"github.com/voxprep/voxprep/pkg/gateway/config"
	"github.com/voxprep/voxprep/pkg/gateway/mw"
)

// IntakeSignatureHeader carries the hex HMAC-SHA256 of the raw request body,
// keyed with the shared intake secret. A "sha256=" prefix is accepted.
const IntakeSignatureHeader = "X-Intake-Signature"

// InterviewWriter is the slice of the repository the intake webhook uses.
// This webhook is the only interview writer in the system.
type InterviewWriter interface {
	CreateInterview(ctx context.Context, interview *types.Interview) error
}

// QuestionGenerator produces the ordered question set for a new interview.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, params scoring.QuestionParams) ([]string, error)
}

// IntakeWebhookHandler accepts callbacks from the external question-generation
// workflow. A verified request generates the question set and inserts one
// finalized interview row.
type IntakeWebhookHandler struct {
	Config  config.Config
	Logger  *slog.Logger
	Store   InterviewWriter
	Scoring QuestionGenerator
}

type intakeRequest struct {
	UserID    string `json:"userId"`
	Role      string `json:"role"`
	Type      string `json:"type"`
	Level     string `json:"level"`
	Techstack string `json:"techstack"`
	Amount    int    `json:"amount"`
}

type intakeResponse struct {
	Success     bool   `json:"success"`
	InterviewID string `json:"interviewId,omitempty"`
}

var coverImages = []string{
	"/covers/amber.png",
	"/covers/cyan.png",
	"/covers/emerald.png",
	"/covers/indigo.png",
	"/covers/rose.png",
	"/covers/slate.png",
}

func randomCoverImage() string {
	return coverImages[rand.IntN(len(coverImages))]
}

func (h IntakeWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, reqID)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("failed to read request body"), http.StatusBadRequest)
		return
	}
	if !h.verifySignature(body, r.Header.Get(IntakeSignatureHeader)) {
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:      core.ErrAuthentication,
			Message:   "invalid webhook signature",
			Code:      "bad_signature",
			RequestID: reqID,
		}, http.StatusUnauthorized)
		return
	}

	var req intakeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("invalid json body"), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("userId is required", "userId"), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Role) == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("role is required", "role"), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Level) == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("level is required", "level"), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("type is required", "type"), http.StatusBadRequest)
		return
	}

	techstack := splitList(req.Techstack)
	questions, err := h.Scoring.GenerateQuestions(r.Context(), scoring.QuestionParams{
		Role:      strings.TrimSpace(req.Role),
		Level:     strings.TrimSpace(req.Level),
		Type:      strings.TrimSpace(req.Type),
		Techstack: techstack,
		Amount:    req.Amount,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("question generation failed", "request_id", reqID, "user_id", req.UserID, "error", err)
		}
		writeError(w, reqID, err)
		return
	}

	interview := &types.Interview{
		ID:         ids.NewWithPrefix("itv"),
		UserID:     strings.TrimSpace(req.UserID),
		Role:       strings.TrimSpace(req.Role),
		Type:       strings.TrimSpace(req.Type),
		Level:      strings.TrimSpace(req.Level),
		Techstack:  techstack,
		Questions:  questions,
		Finalized:  true,
		CoverImage: randomCoverImage(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.CreateInterview(r.Context(), interview); err != nil {
		writeError(w, reqID, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("interview created",
			"request_id", reqID,
			"interview_id", interview.ID,
			"user_id", interview.UserID,
			"questions", len(interview.Questions))
	}
	writeJSON(w, http.StatusOK, intakeResponse{Success: true, InterviewID: interview.ID})
}

func (h IntakeWebhookHandler) verifySignature(body []byte, header string) bool {
	secret := strings.TrimSpace(h.Config.IntakeWebhookSecret)
	if secret == "" {
		return false
	}
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if header == "" {
		return false
	}
	sig, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
