package router

import (
	"net/http"

	"github.com/neighborgigs/backend/internal/auth"
	"github.com/neighborgigs/backend/internal/handlers"
	"github.com/neighborgigs/backend/internal/middleware"
)

// Handlers bundles the per-area handlers the router mounts.
type Handlers struct {
	Auth       *auth.Handler
	Tasks      *handlers.TaskHandler
	Broadcasts *handlers.BroadcastHandler
	Messages   *handlers.MessageHandler
	Neighbors  *handlers.NeighborHandler
	Feed       *handlers.FeedHandler
	Webhooks   *handlers.WebhookHandler
}

// New returns the API handler. Everything under /v1 except auth and the
// processor webhook requires a bearer token.
func New(h Handlers, validator middleware.TokenValidator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/auth/register", h.Auth.Register)
	mux.HandleFunc("POST /v1/auth/login", h.Auth.Login)

	mux.HandleFunc("POST /v1/webhooks/payments", h.Webhooks.CaptureOutcome)

	authed := middleware.BearerAuth(validator)
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, authed(fn))
	}

	handle("POST /v1/tasks", h.Tasks.SubmitTask)
	handle("GET /v1/tasks", h.Tasks.ListTasks)
	handle("GET /v1/tasks/{id}", h.Tasks.GetTask)
	handle("GET /v1/tasks/{id}/transitions", h.Tasks.GetTransitions)
	handle("GET /v1/tasks/{id}/payments", h.Tasks.GetPayments)
	handle("POST /v1/tasks/{id}/offer", h.Tasks.MakeOffer)
	handle("POST /v1/tasks/{id}/respond", h.Tasks.RespondToOffer)
	handle("POST /v1/tasks/{id}/direct-accept", h.Tasks.DirectAccept)
	handle("POST /v1/tasks/{id}/checkin", h.Tasks.CheckIn)
	handle("POST /v1/tasks/{id}/proof", h.Tasks.SubmitProof)
	handle("POST /v1/tasks/{id}/tip", h.Tasks.AddTip)
	handle("POST /v1/tasks/{id}/confirm", h.Tasks.Confirm)
	handle("POST /v1/tasks/{id}/dispute", h.Tasks.Dispute)
	handle("POST /v1/tasks/{id}/resolve", h.Tasks.ResolveDispute)
	handle("POST /v1/tasks/{id}/cancel", h.Tasks.Cancel)

	handle("POST /v1/tasks/{id}/messages", h.Messages.SendMessage)
	handle("GET /v1/tasks/{id}/messages", h.Messages.ListMessages)
	handle("POST /v1/tasks/{id}/reviews", h.Messages.LeaveReview)

	handle("POST /v1/broadcasts", h.Broadcasts.OpenBroadcast)
	handle("GET /v1/broadcasts", h.Broadcasts.ListBroadcasts)
	handle("GET /v1/broadcasts/{id}", h.Broadcasts.GetBroadcast)
	handle("GET /v1/broadcasts/{id}/tasks", h.Broadcasts.ListBroadcastTasks)
	handle("POST /v1/broadcasts/{id}/close", h.Broadcasts.CloseBroadcast)

	handle("GET /v1/neighbors/{id}", h.Neighbors.GetNeighbor)
	handle("GET /v1/neighbors/{id}/reviews", h.Messages.ListReviews)

	handle("GET /v1/feed", h.Feed.Stream)

	return mux
}
