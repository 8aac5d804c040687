package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/voxprep/voxprep/pkg/core"
	"github.com/voxprep/voxprep/pkg/core/types"
	"github.com/voxprep/voxprep/pkg/gateway/auth"
	"github.com/voxprep/voxprep/pkg/gateway/config"
	"github.com/voxprep/voxprep/pkg/gateway/mw"
)

// InterviewReader is the slice of the repository the read endpoints use.
type InterviewReader interface {
	InterviewsByUser(ctx context.Context, userID string) ([]*types.Interview, error)
	LatestInterviews(ctx context.Context, excludeUserID string, limit int) ([]*types.Interview, error)
	InterviewByID(ctx context.Context, id string) (*types.Interview, error)
	FeedbackByInterview(ctx context.Context, interviewID, userID string) (*types.Feedback, error)
}

// InterviewsHandler serves the read-only interview endpoints under
// /v1/interviews. Every endpoint requires a signed-in caller; an interview is
// readable by any caller so that discoverable interviews can be taken.
type InterviewsHandler struct {
	Config config.Config
	Logger *slog.Logger
	Store  InterviewReader
}

type interviewsResponse struct {
	Interviews []*types.Interview `json:"interviews"`
}

type interviewResponse struct {
	Interview *types.Interview `json:"interview"`
}

type feedbackResponse struct {
	Feedback *types.Feedback `json:"feedback"`
}

func (h InterviewsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, reqID)
		return
	}
	user, ok := auth.UserFrom(r.Context())
	if !ok {
		writeUnauthorized(w, reqID)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/interviews"), "/")
	switch rest {
	case "":
		h.listMine(w, r, reqID, user)
	case "latest":
		h.listLatest(w, r, reqID, user)
	default:
		id, wantFeedback := rest, false
		if strings.HasSuffix(rest, "/feedback") {
			id, wantFeedback = strings.TrimSuffix(rest, "/feedback"), true
		}
		if id == "" || strings.Contains(id, "/") {
			NotFoundHandler{}.ServeHTTP(w, r)
			return
		}
		if wantFeedback {
			h.getFeedback(w, r, reqID, user, id)
		} else {
			h.getOne(w, r, reqID, id)
		}
	}
}

func (h InterviewsHandler) listMine(w http.ResponseWriter, r *http.Request, reqID string, user *types.User) {
	interviews, err := h.Store.InterviewsByUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, interviewsResponse{Interviews: interviews})
}

func (h InterviewsHandler) listLatest(w http.ResponseWriter, r *http.Request, reqID string, user *types.User) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("limit must be a positive integer", "limit"), http.StatusBadRequest)
			return
		}
		limit = n
	}
	interviews, err := h.Store.LatestInterviews(r.Context(), user.ID, limit)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, interviewsResponse{Interviews: interviews})
}

func (h InterviewsHandler) getOne(w http.ResponseWriter, r *http.Request, reqID, id string) {
	interview, err := h.Store.InterviewByID(r.Context(), id)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, interviewResponse{Interview: interview})
}

func (h InterviewsHandler) getFeedback(w http.ResponseWriter, r *http.Request, reqID string, user *types.User, interviewID string) {
	feedback, err := h.Store.FeedbackByInterview(r.Context(), interviewID, user.ID)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, feedbackResponse{Feedback: feedback})
}
