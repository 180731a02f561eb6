// Package api provides the Brain's HTTP and WebSocket surface: signal
// ingestion, phase webhooks, and live dashboard state.
package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/brainhouse/capital-brain/internal/brain"
	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/internal/events"
	"github.com/brainhouse/capital-brain/pkg/types"
)

// Server is the Brain's HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     config.ServerConfig
	ctx        *brain.Context
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
}

// NewServer creates a new API server bound to the Brain context.
func NewServer(logger *zap.Logger, cfg config.ServerConfig, brainCtx *brain.Context) *Server {
	s := &Server{
		logger: logger,
		config: cfg,
		ctx:    brainCtx,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	s.subscribeBus()
	return s
}

// setupRoutes configures the Brain's HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/signal", s.handleSignal).Methods("POST")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/allocation", s.handleAllocation).Methods("GET")
	s.router.HandleFunc("/dashboard", s.handleDashboard).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/webhook/phase1", s.handlePhaseWebhook(types.PhaseP1)).Methods("POST")
	s.router.HandleFunc("/webhook/phase2", s.handlePhaseWebhook(types.PhaseP2)).Methods("POST")
	s.router.HandleFunc("/webhook/phase3", s.handlePhaseWebhook(types.PhaseP3)).Methods("POST")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// subscribeBus forwards every Brain-domain notification onto the dashboard hub.
func (s *Server) subscribeBus() {
	bus := s.ctx.Bus
	if bus == nil {
		return
	}

	bus.Subscribe(events.EventTypeDecision, func(e events.Event) error {
		if d, ok := e.(*events.DecisionEvent); ok {
			s.hub.BroadcastDecision(d.Decision)
		}
		return nil
	})
	bus.Subscribe(events.EventTypeRiskAlert, func(e events.Event) error {
		if a, ok := e.(*events.RiskAlertEvent); ok {
			s.hub.BroadcastRiskAlert(a)
		}
		return nil
	})
	bus.Subscribe(events.EventTypeDefconChange, func(e events.Event) error {
		if d, ok := e.(*events.DefconChangeEvent); ok {
			s.hub.BroadcastDefconChange(d.From, d.To)
		}
		return nil
	})
	bus.Subscribe(events.EventTypeCircuitBreaker, func(e events.Event) error {
		if c, ok := e.(*events.CircuitBreakerEvent); ok {
			s.hub.BroadcastCircuitBreaker(c.State, c.Reason)
		}
		return nil
	})
	bus.Subscribe(events.EventTypeReconciliationDrift, func(e events.Event) error {
		if d, ok := e.(*events.ReconciliationDriftEvent); ok {
			s.hub.BroadcastReconciliationDrift(d.Drift)
		}
		return nil
	})
}

// Start starts the HTTP server and the dashboard hub's dispatch loop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	go s.hub.Run()

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info("starting brain api server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleSignal ingests an IntentSignal and runs it through the admission pipeline synchronously.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var signal types.IntentSignal
	if err := json.NewDecoder(r.Body).Decode(&signal); err != nil {
		writeError(w, http.StatusBadRequest, "malformed signal payload")
		return
	}
	signal.ReceivedAt = time.Now()

	decision, err := s.ctx.Orchestrator.Process(r.Context(), signal)
	if err != nil {
		if _, ok := err.(*types.InvalidSignalError); ok {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("signal processing failed", zap.String("signalId", signal.SignalID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "signal processing failed")
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// handleStatus reports the gate chain's current health.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"defcon":        s.ctx.Governor.Level().String(),
		"breaker":       s.ctx.Circuit.State(),
		"queueDepth":    s.ctx.Orchestrator.QueueDepth(),
		"approvalRates": s.ctx.Orchestrator.ApprovalRates(),
		"isLeader":      s.ctx.Elector == nil || s.ctx.Elector.IsLeader(),
	})
}

// handleAllocation reports the current capital allocation vector.
func (s *Server) handleAllocation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctx.Allocation.Allocate(s.ctx.Equity.Equity()))
}

// handleDashboard aggregates the state a dashboard needs for a single poll.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	equity := s.ctx.Equity.Equity()

	var busStats events.EventBusStats
	if s.ctx.Bus != nil {
		busStats = s.ctx.Bus.GetStats()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"equity":        equity,
		"allocation":    s.ctx.Allocation.Allocate(equity),
		"defcon":        s.ctx.Governor.Level().String(),
		"breaker":       s.ctx.Circuit.State(),
		"positions":     s.ctx.Positions.Positions(),
		"highWatermark": s.ctx.CapitalFlow.HighWatermark(),
		"approvalRates": s.ctx.Orchestrator.ApprovalRates(),
		"queueDepth":    s.ctx.Orchestrator.QueueDepth(),
		"clients":       s.hub.ClientCount(),
		"eventBus":      busStats,
	})
}

// handlePhaseWebhook builds a handler that verifies the HMAC-SHA256 signature
// of an inbound phase webhook, then enqueues the resulting signal for admission.
func (s *Server) handlePhaseWebhook(phase types.PhaseID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		if s.config.WebhookSecret != "" {
			if !verifyWebhookSignature(s.config.WebhookSecret, body, r.Header.Get("X-Signature")) {
				writeError(w, http.StatusUnauthorized, "invalid webhook signature")
				return
			}
		}

		var signal types.IntentSignal
		if err := json.Unmarshal(body, &signal); err != nil {
			writeError(w, http.StatusBadRequest, "malformed signal payload")
			return
		}
		signal.PhaseID = phase
		signal.ReceivedAt = time.Now()
		if signal.SignalID == "" {
			signal.SignalID = uuid.NewString()
		}

		if err := s.ctx.Orchestrator.Enqueue(r.Context(), signal); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"signalId": signal.SignalID})
	}
}

// verifyWebhookSignature checks an X-Signature header of the form
// "sha256=<hex hmac>" against the request body, constant-time.
func verifyWebhookSignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	given, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	return hmac.Equal(expected, given)
}

// handleWebSocket upgrades a connection and registers it with the dashboard hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.NewString(), s.hub, conn)
	s.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}
