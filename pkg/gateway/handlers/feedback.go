package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/voxprep/voxprep/pkg/core"
	"github.com/voxprep/voxprep/pkg/core/types"
	"github.com/voxprep/voxprep/pkg/gateway/auth"
	"github.com/voxprep/voxprep/pkg/gateway/config"
	"github.com/voxprep/voxprep/pkg/gateway/mw"
)

// FeedbackRunner is the feedback pipeline boundary.
type FeedbackRunner interface {
	Generate(ctx context.Context, interviewID, userID string, transcript []types.TranscriptMessage) types.FeedbackResult
}

// FeedbackHandler runs the feedback pipeline over a transcript posted by the
// client. The live call path invokes the same pipeline directly; this endpoint
// exists for clients that buffer the transcript themselves.
type FeedbackHandler struct {
	Config  config.Config
	Logger  *slog.Logger
	Scoring FeedbackRunner
}

type feedbackRequest struct {
	InterviewID string                    `json:"interviewId"`
	Transcript  []types.TranscriptMessage `json:"transcript"`
}

func (h FeedbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, reqID)
		return
	}
	user, ok := auth.UserFrom(r.Context())
	if !ok {
		writeUnauthorized(w, reqID)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("failed to read request body"), http.StatusBadRequest)
		return
	}
	var req feedbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("invalid json body"), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.InterviewID) == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("interviewId is required", "interviewId"), http.StatusBadRequest)
		return
	}
	if len(req.Transcript) == 0 {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("transcript must not be empty", "transcript"), http.StatusBadRequest)
		return
	}
	for i, m := range req.Transcript {
		if !types.ValidRole(m.Role) {
			writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam(
				fmt.Sprintf("transcript[%d].role must be one of user|system|assistant", i), "transcript"), http.StatusBadRequest)
			return
		}
	}

	ctx := r.Context()
	if h.Config.ScoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.ScoreTimeout)
		defer cancel()
	}
	result := h.Scoring.Generate(ctx, req.InterviewID, user.ID, req.Transcript)
	writeJSON(w, http.StatusOK, result)
}
