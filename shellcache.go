package shellcache

import (
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"

	cachestatus "github.com/celesys/shell-cache/pkg/cache-status"
	"github.com/celesys/shell-cache/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Requests whose path falls under this prefix are never cached and never
// intercepted, regardless of method.
const apiPrefix = "/api/"

// rootPath is the final fallback for offline navigation requests.
const rootPath = "/"

type Config struct {
	// Storage for cached response snapshots.
	Store store.Provider
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Name of the current cache generation.
	// Must change on every deployed asset revision, so that activation
	// can clean up snapshots belonging to earlier generations.
	CacheName string
	// Paths making up the application shell, pre-populated on install.
	Manifest []string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Metrics to report to. A new registry is created if nil.
	Metrics *Metrics
}

// Engine decides, per intercepted request, whether to serve from the named
// cache, refresh it, or stay out of the way entirely. It implements
// http.Handler, which is the fetch side of its lifecycle; install and
// activation are separate explicit steps (see Startup).
type Engine struct {
	store     store.Provider
	origin    url.URL
	cacheName string
	manifest  []string
	log       zerolog.Logger
	client    *http.Client
	proxy     *httputil.ReverseProxy
	metrics   *Metrics
	pending   sync.WaitGroup
}

// CreateEngine initializes the cache engine and sets up the needed variables.
// It does not touch the store; call Startup (or HandleInstall and
// HandleActivate) before serving.
func CreateEngine(config Config) *Engine {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("cache", config.CacheName).
		Logger()

	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	e := &Engine{
		store:     config.Store,
		origin:    config.OriginURL,
		cacheName: config.CacheName,
		manifest:  config.Manifest,
		log:       logger,
		metrics:   metrics,
	}

	// client instance to use for origin requests
	e.client = &http.Client{
		// do not follow redirects
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	e.proxy = &httputil.ReverseProxy{
		Director: createDirector(config.OriginURL.Scheme, config.OriginURL.Host),
	}

	return e
}

// Metrics returns the metrics instance the engine reports to,
// for mounting its handler on an admin endpoint.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// ServeHTTP implements the http.Handler interface.
// It classifies the intercepted request and dispatches to one of three
// strategies: pass-through, network-first, or stale-while-revalidate.
// Only the latter two ever touch the store, so non-GET requests and
// requests under the API prefix can never leave a cache entry behind.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method != http.MethodGet:
		e.passThrough(w, r, cachestatus.FwdMethod)
	case strings.HasPrefix(r.URL.Path, apiPrefix):
		e.passThrough(w, r, cachestatus.FwdBypass)
	case isNavigation(r):
		e.networkFirst(w, r)
	default:
		e.staleWhileRevalidate(w, r)
	}
}

// passThrough pipes the request to the origin unmodified.
// No cache reads, no cache writes.
func (e *Engine) passThrough(w http.ResponseWriter, r *http.Request, reason cachestatus.FwdReason) {
	cs := cachestatus.Status{}
	cs.Forward(reason)
	w.Header().Add(cachestatus.HeaderName, cs.String())
	e.metrics.requests.WithLabelValues(strategyPassthrough, outcomeForward).Inc()
	e.logRequest(r, cs)
	e.proxy.ServeHTTP(w, r)
}

// isNavigation reports whether the request is a page navigation.
// The classification is the client's own: browsers mark navigations with
// `Sec-Fetch-Mode: navigate`. For clients that do not send the header,
// an HTML Accept header is taken to mean the same thing.
func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// requestKey returns the cache key (the request identity) for a request.
// Only GET requests are ever cached, so the URI alone identifies the entry.
func requestKey(r *http.Request) string {
	return r.URL.RequestURI()
}

// fetch requests the resource specified in the incoming request from the origin.
func (e *Engine) fetch(r *http.Request) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, e.origin.String()+r.URL.RequestURI(), nil)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	req.Host = e.origin.Host
	return e.client.Do(req)
}

// send writes a response to the client, along with the cache status.
func (e *Engine) send(w http.ResponseWriter, res *http.Response, cs cachestatus.Status) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Add(cachestatus.HeaderName, cs.String())
	w.WriteHeader(res.StatusCode)
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		e.log.Error().Err(err).Msg("Could not write response body to client")
	}
	e.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func createDirector(scheme, host string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		req.Host = host
	}
}

// requestLogger returns the logger from the request context.
// If no logger is found, it will return the engine logger.
func (e *Engine) requestLogger(r *http.Request) *zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		return &e.log
	}
	return logger
}

func (e *Engine) logRequest(r *http.Request, cs cachestatus.Status) {
	isHit := 0
	if cs.IsHit() {
		isHit = 1
	}
	e.requestLogger(r).Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("status", cs.String()).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// these headers are host plumbing, not part of the snapshot or the
		// origin request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
