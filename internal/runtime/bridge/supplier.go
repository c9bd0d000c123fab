package bridge

import (
	"context"
	"io"
	"mime"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/drblury/streambridge/internal/runtime/binding"
	configpkg "github.com/drblury/streambridge/internal/runtime/config"
	errspkg "github.com/drblury/streambridge/internal/runtime/errors"
	idspkg "github.com/drblury/streambridge/internal/runtime/ids"
	jsoncodec "github.com/drblury/streambridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/streambridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/streambridge/internal/runtime/metadata"
)

const maxRequestBytes = 10 << 20

// SupplierOptions configure the HTTP supplier route.
type SupplierOptions struct {
	PathPattern   string
	MappedHeaders []string
	CORS          configpkg.CORS
}

// HTTPSupplier turns every request on its route into one message. Requests
// are answered 202 once the message is published, 500 when publishing fails
// and 503 while the supplier is not running.
type HTTPSupplier struct {
	opts   SupplierOptions
	logger loggingpkg.ServiceLogger

	mu   sync.RWMutex
	emit func(ctx context.Context, out binding.Output[[]byte]) error
}

func NewHTTPSupplier(opts SupplierOptions, logger loggingpkg.ServiceLogger) *HTTPSupplier {
	if opts.PathPattern == "" {
		opts.PathPattern = configpkg.DefaultPathPattern
	}
	if len(opts.MappedHeaders) == 0 {
		opts.MappedHeaders = []string{"*"}
	}
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	return &HTTPSupplier{opts: opts, logger: logger}
}

// Function wraps the supplier as the 0/1 "httpSupplier" function.
func (s *HTTPSupplier) Function() *binding.Function {
	return binding.NewSupplier(HTTPSupplierName, binding.BytesCodec{}, s.Run)
}

// Run accepts requests until ctx is done.
func (s *HTTPSupplier) Run(ctx context.Context, emit func(ctx context.Context, out binding.Output[[]byte]) error) error {
	s.mu.Lock()
	s.emit = emit
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	s.emit = nil
	s.mu.Unlock()
	return nil
}

// Handler returns the CORS-wrapped route.
func (s *HTTPSupplier) Handler() http.Handler {
	r := chi.NewRouter()
	r.HandleFunc(s.opts.PathPattern, s.serve)

	return cors.New(cors.Options{
		AllowedOrigins: s.opts.CORS.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedHeaders:   s.opts.CORS.AllowedHeaders,
		AllowCredentials: s.opts.CORS.AllowCredentials,
	}).Handler(r)
}

func (s *HTTPSupplier) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	emit := s.emit
	s.mu.RUnlock()
	if emit == nil {
		http.Error(w, errspkg.ErrSupplierNotRunning.Error(), http.StatusServiceUnavailable)
		return
	}

	payload, err := readPayload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	md := metadatapkg.FromHTTPRequest(r, s.opts.MappedHeaders)
	if md.Get(metadatapkg.KeyCorrelationID) == "" {
		md[metadatapkg.KeyCorrelationID] = idspkg.NewCorrelationID()
	}
	if isForm(r) {
		md[metadatapkg.KeyContentType] = "application/json"
	} else if ct := r.Header.Get("Content-Type"); ct != "" {
		md[metadatapkg.KeyContentType] = ct
	}

	if err := emit(r.Context(), binding.Output[[]byte]{Payload: payload, Metadata: md}); err != nil {
		s.logger.Error("Failed to publish HTTP request", err, loggingpkg.LogFields{
			"path":           r.URL.Path,
			"correlation_id": md.Get(metadatapkg.KeyCorrelationID),
		})
		http.Error(w, "failed to publish message", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// readPayload returns the request body, converting url-encoded forms to JSON.
func readPayload(r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBytes)
	if isForm(r) {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return jsoncodec.FormToJSON(r.PostForm)
	}
	return io.ReadAll(r.Body)
}

func isForm(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/x-www-form-urlencoded"
}
