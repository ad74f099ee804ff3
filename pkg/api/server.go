// Package api serves the slip lifecycle over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/phenomenon0/oddyssey-agent/pkg/eth"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/session"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/txdriver"
)

// Server exposes a session.Manager.
type Server struct {
	mgr     *session.Manager
	wallet  *eth.Wallet
	stream  http.Handler
	metrics http.Handler
	log     *zap.Logger

	// submissions outlive the request that started them
	txTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithWallet sets the key wallet POST /v1/wallet connects.
func WithWallet(w *eth.Wallet) Option {
	return func(s *Server) { s.wallet = w }
}

// WithStream mounts the websocket feed on /ws.
func WithStream(h http.Handler) Option {
	return func(s *Server) { s.stream = h }
}

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithTransactionTimeout bounds submit and claim calls.
func WithTransactionTimeout(d time.Duration) Option {
	return func(s *Server) { s.txTimeout = d }
}

func New(mgr *session.Manager, opts ...Option) *Server {
	s := &Server{
		mgr:       mgr,
		log:       zap.NewNop(),
		txTimeout: 3 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	if s.stream != nil {
		r.Get("/ws", s.stream.ServeHTTP)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/matches", s.matches)
		r.Get("/countdown", s.countdown)
		r.Get("/stats", s.stats)
		r.Get("/leaderboard", s.leaderboard)

		r.Route("/picks", func(r chi.Router) {
			r.Get("/", s.draft)
			r.Delete("/", s.clearDraft)
			r.Put("/{matchID:\\d+}", s.selectPick)
			r.Delete("/{matchID:\\d+}", s.deselectPick)
		})
		r.Get("/validation", s.validation)

		r.Post("/submit", s.submit)
		r.Get("/transaction", s.transaction)
		r.Post("/transaction/reset", s.resetTransaction)

		r.Get("/slips", s.slips)
		r.Get("/slips/summary", s.summary)
		r.Post("/slips/{cycle:\\d+}/{slipID:\\d+}/claim", s.claim)

		r.Post("/wallet", s.connectWallet)
		r.Delete("/wallet", s.disconnectWallet)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, body := errorCode(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed", zap.String("code", body.Code), zap.Error(err))
	}
	writeJSON(w, status, map[string]ErrorBody{"error": body})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Status())
}

func (s *Server) matches(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := s.mgr.RefreshMatches(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
	}
	view := s.mgr.Matches()
	if view.HasValue {
		view.Value.Matches = view.Value.ByKickoff()
		if q := r.URL.Query().Get("q"); q != "" {
			view.Value.Matches = view.Value.Search(q)
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) countdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Countdown())
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Stats())
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	var cycle odds.CycleID
	if v := r.URL.Query().Get("cycle"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, badRequest{"cycle must be a number"})
			return
		}
		cycle = odds.CycleID(n)
	}
	entries, err := s.mgr.Leaderboard(r.Context(), cycle)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) draft(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Draft())
}

func (s *Server) clearDraft(w http.ResponseWriter, r *http.Request) {
	s.mgr.ClearDraft()
	writeJSON(w, http.StatusOK, s.mgr.Draft())
}

type selectRequest struct {
	Outcome string `json:"outcome"`
}

func (s *Server) selectPick(w http.ResponseWriter, r *http.Request) {
	id, err := urlUint(r, "matchID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest{"body must be {\"outcome\": ...}"})
		return
	}
	outcome, err := odds.ParseOutcome(req.Outcome)
	if err != nil {
		s.writeError(w, badRequest{err.Error()})
		return
	}

	if _, err := s.mgr.Select(odds.MatchID(id), outcome); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.mgr.Draft())
}

func (s *Server) deselectPick(w http.ResponseWriter, r *http.Request) {
	id, err := urlUint(r, "matchID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !s.mgr.Deselect(odds.MatchID(id)) {
		writeJSON(w, http.StatusNotFound, map[string]ErrorBody{"error": {
			Code:    "pick_not_found",
			Message: "No pick for this match",
		}})
		return
	}
	writeJSON(w, http.StatusOK, s.mgr.Draft())
}

func (s *Server) validation(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"ok": true}
	if err := s.mgr.Validate(); err != nil {
		_, body := errorCode(err)
		resp = map[string]any{"ok": false, "error": body}
	}
	writeJSON(w, http.StatusOK, resp)
}

type transactionResponse struct {
	Transaction txdriver.PendingTransaction `json:"transaction"`
	Error       *ErrorBody                  `json:"error,omitempty"`
}

func (s *Server) runTransaction(w http.ResponseWriter, r *http.Request, run func(context.Context) (txdriver.PendingTransaction, error)) {
	// a dispatched transaction cannot be recalled, so it does not follow
	// the request's cancellation
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.txTimeout)
	defer cancel()

	pt, err := run(ctx)
	if err == nil {
		writeJSON(w, http.StatusOK, transactionResponse{Transaction: pt})
		return
	}
	if pt.Phase == txdriver.PhaseFailed && pt.Cause != txdriver.CauseNone {
		body := transactionError(pt)
		writeJSON(w, http.StatusBadGateway, transactionResponse{Transaction: pt, Error: &body})
		return
	}
	s.writeError(w, err)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	s.runTransaction(w, r, s.mgr.Submit)
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	cycle, err := urlUint(r, "cycle")
	if err != nil {
		s.writeError(w, err)
		return
	}
	slipID, err := urlUint(r, "slipID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.runTransaction(w, r, func(ctx context.Context) (txdriver.PendingTransaction, error) {
		return s.mgr.Claim(ctx, odds.CycleID(cycle), slipID)
	})
}

func (s *Server) transaction(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]txdriver.PendingTransaction{
		"slip":  s.mgr.Transaction(),
		"claim": s.mgr.ClaimTransaction(),
	})
}

func (s *Server) resetTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.ResetTransaction(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.mgr.Transaction())
}

func (s *Server) slips(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := s.mgr.RefreshSlips(r.Context()); err != nil {
			s.log.Debug("slip refresh failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, s.mgr.Slips())
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Summary())
}

func (s *Server) connectWallet(w http.ResponseWriter, r *http.Request) {
	if s.wallet == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]ErrorBody{"error": {
			Code:    "no_wallet",
			Message: "No signing key is configured",
		}})
		return
	}
	if err := s.mgr.ConnectWallet(r.Context(), s.wallet); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.mgr.Status())
}

func (s *Server) disconnectWallet(w http.ResponseWriter, r *http.Request) {
	s.mgr.DisconnectWallet()
	writeJSON(w, http.StatusOK, s.mgr.Status())
}

func urlUint(r *http.Request, name string) (uint64, error) {
	n, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, badRequest{name + " must be a number"}
	}
	return n, nil
}
