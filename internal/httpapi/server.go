package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mfriis/tabnap/internal/activity"
	"github.com/mfriis/tabnap/internal/bridge"
	"github.com/mfriis/tabnap/internal/browser"
	"github.com/mfriis/tabnap/internal/config"
	"github.com/mfriis/tabnap/internal/observability"
	"github.com/mfriis/tabnap/internal/persist"
	"github.com/mfriis/tabnap/internal/settings"
	"github.com/mfriis/tabnap/internal/suspend"
	"github.com/mfriis/tabnap/internal/sweep"
)

// Server exposes the daemon's control and diagnostics surface plus the
// extension bridge endpoint.
type Server struct {
	cfg           config.Config
	tracker       *activity.Tracker
	ledger        *suspend.RecoveryLedger
	runner        *suspend.Runner
	coordinator   *sweep.Coordinator
	bridge        *bridge.Bridge
	settingsQueue *persist.Queue
	metrics       *observability.Metrics
	storeMode     string
	upgrader      websocket.Upgrader
}

func New(cfg config.Config, tracker *activity.Tracker, ledger *suspend.RecoveryLedger, runner *suspend.Runner, coordinator *sweep.Coordinator, br *bridge.Bridge, settingsQueue *persist.Queue, metrics *observability.Metrics, storeMode string) *Server {
	return &Server{
		cfg:           cfg,
		tracker:       tracker,
		ledger:        ledger,
		runner:        runner,
		coordinator:   coordinator,
		bridge:        br,
		settingsQueue: settingsQueue,
		metrics:       metrics,
		storeMode:     storeMode,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only the extension (no Origin, or extension origin) and
				// same-origin browser pages may drive the bridge unless
				// explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				switch u.Scheme {
				case "chrome-extension", "moz-extension":
					return true
				case "http", "https":
					return strings.EqualFold(u.Host, r.Host)
				default:
					return false
				}
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/bridge/ws", s.handleBridgeWS)

	r.Get("/v1/tabs/decisions", s.handleDecisionSummary)
	r.Post("/v1/tabs/{id}/suspend", s.handleSuspendTab)
	r.Post("/v1/sweep", s.handleSweep)
	r.Get("/v1/activity", s.handleActivity)
	r.Get("/v1/recovery", s.handleRecovery)
	r.Get("/v1/settings", s.handleGetSettings)
	r.Put("/v1/settings", s.handlePutSettings)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"store_mode":       s.storeMode,
		"bridge_connected": s.bridge.Connected(),
		"tracked_tabs":     s.tracker.Len(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.bridge.Connected() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "waiting_for_extension",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleBridgeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.bridge.Run(conn)
}

func (s *Server) handleDecisionSummary(w http.ResponseWriter, r *http.Request) {
	nowMinute := activity.MinuteOf(time.Now())
	decisions, err := s.runner.DecisionSummary(r.Context(), nowMinute)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "query_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"now_minute": nowMinute,
		"decisions":  decisions,
	})
}

func (s *Server) handleSuspendTab(w http.ResponseWriter, r *http.Request) {
	tabID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || tabID < 0 {
		respondError(w, http.StatusBadRequest, "invalid_tab_id", "tab id must be a non-negative integer")
		return
	}

	tabs, err := s.bridge.QueryTabs(r.Context(), browser.Filter{})
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "query_failed", err.Error())
		return
	}
	var target *browser.Tab
	for i := range tabs {
		if tabs[i].ID == tabID {
			target = &tabs[i]
			break
		}
	}
	if target == nil {
		respondError(w, http.StatusNotFound, "tab_not_found", "no open tab with that id")
		return
	}

	nowMinute := activity.MinuteOf(time.Now())
	decision, suspended, err := s.runner.SuspendFromAction(r.Context(), *target, nowMinute)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "suspend_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"suspended": suspended,
		"decision":  decision,
	})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	nowMinute := activity.MinuteOf(time.Now())
	if err := s.coordinator.RequestSweep(r.Context(), nowMinute); err != nil {
		respondError(w, http.StatusServiceUnavailable, "sweep_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "done", "now_minute": nowMinute})
}

func (s *Server) handleActivity(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"tabs": s.tracker.Snapshot()})
}

func (s *Server) handleRecovery(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"entries": s.ledger.Snapshot()})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.runner.CurrentSettings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settings.Settings
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_settings", err.Error())
		return
	}

	normalized := req.Normalize()
	s.runner.SetSettings(normalized)
	if s.settingsQueue != nil {
		s.settingsQueue.MarkDirty()
	}

	// A shorter idle threshold may shrink the sweep interval; pull the due
	// cursor earlier so the change takes effect before the old cursor.
	nowMinute := activity.MinuteOf(time.Now())
	s.coordinator.AlignDueCandidate(nowMinute, nowMinute+normalized.SweepIntervalMinutes())

	respondJSON(w, http.StatusOK, normalized)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
