package runtime

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/drblury/streambridge/health"
	errspkg "github.com/drblury/streambridge/internal/runtime/errors"
	jsoncodec "github.com/drblury/streambridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/streambridge/internal/runtime/logging"
)

// Binding states accepted by POST /actuator/bindings/{name}.
const (
	BindingActionPaused  = "PAUSED"
	BindingActionResumed = "RESUMED"
)

// BindingView is one entry of GET /actuator/bindings.
type BindingView struct {
	Name        string                `json:"bindingName"`
	Destination string                `json:"destination"`
	Group       string                `json:"group,omitempty"`
	State       string                `json:"state"`
	Input       bool                  `json:"input"`
	Stats       *BindingStatsSnapshot `json:"stats,omitempty"`
}

type bindingStateRequest struct {
	State string `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Service) registerManagement() {
	port := s.Conf.ManagementPort
	wrap := func(h http.HandlerFunc) http.Handler { return h }
	if len(s.Conf.ManagementCORSAllowedOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: s.Conf.ManagementCORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		})
		wrap = func(h http.HandlerFunc) http.Handler { return c.Handler(h) }
	}

	s.RegisterHTTPHandler(port, "/actuator/health", wrap(s.handleHealth))
	s.RegisterHTTPHandler(port, "/actuator/bindings", wrap(s.handleListBindings))
	s.RegisterHTTPHandler(port, "/actuator/bindings/{name}", wrap(s.handleBinding))
	s.RegisterHTTPHandler(port, "/actuator/deadletters", wrap(s.handleDeadLetters))
	if s.Conf.MetricsEnabled {
		s.RegisterHTTPHandler(port, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	verdict := s.Health(r.Context())
	status := http.StatusOK
	if verdict.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, verdict)
}

func (s *Service) handleListBindings(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	names := s.bindings.Names()
	views := make([]BindingView, 0, len(names))
	for _, name := range names {
		views = append(views, s.bindingView(name))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Service) handleBinding(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.bindings.Get(name); !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: errspkg.ErrBindingNotFound.Error()})
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.bindingView(name))
	case http.MethodPost:
		var req bindingStateRequest
		if err := jsoncodec.Decode(r.Body, &req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		var err error
		switch strings.ToUpper(strings.TrimSpace(req.State)) {
		case BindingActionPaused:
			err = s.Pause(name)
		case BindingActionResumed:
			err = s.Resume(name)
		default:
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "state must be PAUSED or RESUMED"})
			return
		}
		if errors.Is(err, errspkg.ErrBindingNotFound) {
			s.writeJSON(w, http.StatusConflict, errorResponse{Error: "binding has no listener"})
			return
		}
		s.writeJSON(w, http.StatusOK, s.bindingView(name))
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.dlq.GetSnapshot())
}

func (s *Service) bindingView(name string) BindingView {
	props, _ := s.bindings.Get(name)
	view := BindingView{
		Name:        name,
		Destination: props.DestinationOr(name),
		Group:       props.Group,
		State:       BindingStateBound,
	}
	if container, ok := s.container(name); ok {
		stats := container.stats.Snapshot()
		view.Input = true
		view.State = container.State()
		view.Stats = &stats
	}
	return view
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsoncodec.Encode(w, v); err != nil {
		s.Logger.Error("Failed to encode management response", err, loggingpkg.LogFields{"status": status})
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}
