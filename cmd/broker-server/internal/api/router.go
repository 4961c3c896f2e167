package api

import "net/http"

// NewRouter registers every endpoint and wraps the mux with correlation
// and request logging.
func NewRouter(h *Handler, mw *Middleware) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.HandleHealth)

	mux.HandleFunc("POST /api/v1/publish", mw.AuthRequired(h.HandlePublish))
	mux.HandleFunc("POST /api/v1/publish/batch", mw.AuthRequired(h.HandlePublishBatch))
	mux.HandleFunc("POST /api/v1/subscribe", mw.AuthRequired(h.HandleSubscribe))
	mux.HandleFunc("GET /api/v1/subscriptions", mw.AuthRequired(h.HandleListSubscriptions))
	mux.HandleFunc("DELETE /api/v1/subscriptions/{subKey}", mw.AuthRequired(h.HandleUnsubscribe))
	mux.HandleFunc("POST /api/v1/messages/get", mw.AuthRequired(h.HandleGetMessages))
	mux.HandleFunc("POST /api/v1/messages/ack", mw.AuthRequired(h.HandleAcknowledge))
	mux.HandleFunc("GET /api/v1/topics", mw.AuthRequired(h.HandleListTopics))

	mux.HandleFunc("POST /api/v1/topics", mw.AdminRequired(h.HandleCreateTopic))
	mux.HandleFunc("DELETE /api/v1/topics/{name}", mw.AdminRequired(h.HandleDeleteTopic))
	mux.HandleFunc("GET /api/v1/stats", mw.AdminRequired(h.HandleStats))

	return mw.Correlation(mw.Logging(mux))
}
