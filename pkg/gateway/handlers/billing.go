package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	checkoutsession "github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/voxprep/voxprep/pkg/core"
	"github.com/voxprep/voxprep/pkg/core/types"
	"github.com/voxprep/voxprep/pkg/gateway/auth"
	"github.com/voxprep/voxprep/pkg/gateway/config"
	"github.com/voxprep/voxprep/pkg/gateway/mw"
)

// PlanWriter is the slice of the repository billing uses.
type PlanWriter interface {
	SetUserPlan(ctx context.Context, id, plan string) error
}

// BillingHandler serves /v1/billing/: Checkout session creation for the pro
// plan and the signature-verified Stripe webhook that applies the upgrade.
// CreateCheckout and VerifyEvent default to the Stripe SDK and are injectable
// for tests.
type BillingHandler struct {
	Config config.Config
	Logger *slog.Logger
	Store  PlanWriter

	CreateCheckout func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	VerifyEvent    func(payload []byte, sigHeader string) (stripe.Event, error)
}

type checkoutResponse struct {
	URL string `json:"url"`
}

type webhookAck struct {
	Received bool `json:"received"`
}

func (h BillingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if !h.Config.BillingEnabled() {
		NotFoundHandler{}.ServeHTTP(w, r)
		return
	}
	switch strings.TrimPrefix(r.URL.Path, "/v1/billing/") {
	case "checkout":
		h.checkout(w, r, reqID)
	case "webhook":
		h.webhook(w, r, reqID)
	default:
		NotFoundHandler{}.ServeHTTP(w, r)
	}
}

func (h BillingHandler) checkout(w http.ResponseWriter, r *http.Request, reqID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, reqID)
		return
	}
	user, ok := auth.UserFrom(r.Context())
	if !ok {
		writeUnauthorized(w, reqID)
		return
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(user.ID),
		CustomerEmail:     stripe.String(user.Email),
		SuccessURL:        stripe.String(h.Config.StripeSuccessURL),
		CancelURL:         stripe.String(h.Config.StripeCancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(h.Config.StripePriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	sess, err := h.createCheckout(params)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("checkout session creation failed", "request_id", reqID, "user_id", user.ID, "error", err)
		}
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:      core.ErrAPI,
			Message:   "failed to create checkout session",
			RequestID: reqID,
		}, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{URL: sess.URL})
}

// webhook applies checkout.session.completed by flipping the user's plan to
// pro. Other event types are acknowledged and ignored. An unknown user is
// acknowledged too, so Stripe does not retry an event that can never apply.
func (h BillingHandler) webhook(w http.ResponseWriter, r *http.Request, reqID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, reqID)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("failed to read request body"), http.StatusBadRequest)
		return
	}
	event, err := h.verifyEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:      core.ErrAuthentication,
			Message:   "invalid webhook signature",
			Code:      "bad_signature",
			RequestID: reqID,
		}, http.StatusBadRequest)
		return
	}

	if event.Type == "checkout.session.completed" {
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("malformed event payload"), http.StatusBadRequest)
			return
		}
		userID := strings.TrimSpace(sess.ClientReferenceID)
		if userID == "" {
			writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("event has no client reference"), http.StatusBadRequest)
			return
		}
		if err := h.Store.SetUserPlan(r.Context(), userID, types.PlanPro); err != nil {
			if !errors.Is(err, core.ErrNotFound) {
				writeError(w, reqID, err)
				return
			}
			if h.Logger != nil {
				h.Logger.Warn("billing webhook for unknown user", "request_id", reqID, "user_id", userID)
			}
		} else if h.Logger != nil {
			h.Logger.Info("plan upgraded", "request_id", reqID, "user_id", userID, "plan", types.PlanPro)
		}
	}
	writeJSON(w, http.StatusOK, webhookAck{Received: true})
}

func (h BillingHandler) createCheckout(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if h.CreateCheckout != nil {
		return h.CreateCheckout(params)
	}
	return checkoutsession.New(params)
}

func (h BillingHandler) verifyEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if h.VerifyEvent != nil {
		return h.VerifyEvent(payload, sigHeader)
	}
	return webhook.ConstructEvent(payload, sigHeader, h.Config.StripeWebhookSecret)
}
