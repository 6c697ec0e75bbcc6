// Package feed serves resolved instances as read-only calendar feeds over HTTP.
package feed

import (
	"net/http"
	"strings"
	"time"

	"github.com/cyp0633/libhorizon/export"
	"github.com/cyp0633/libhorizon/internal/logx"
	"github.com/cyp0633/libhorizon/storage"
)

const (
	// HTTP headers
	HeaderContentType  = "Content-Type"
	HeaderAllow        = "Allow"
	HeaderCacheControl = "Cache-Control"

	// MIME types
	MimeTypeCalendar = "text/calendar; charset=utf-8"
	MimeTypeXCal     = "application/calendar+xml; charset=utf-8"

	AllowedMethods = "OPTIONS, GET, HEAD"

	defaultDays = 90
	maxDays     = 366
)

// Router routes feed requests.
type Router struct {
	store    storage.Store
	baseURI  string
	handlers map[string]http.HandlerFunc
	log      logx.Logger
	now      func() time.Time
	days     int
	export   []export.Option
}

// Option configures a Router.
type Option func(*Router)

func WithLogger(log logx.Logger) Option {
	return func(r *Router) { r.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithDefaultDays sets how many days ahead a feed covers when the request
// does not say.
func WithDefaultDays(days int) Option {
	return func(r *Router) {
		if days > 0 {
			r.days = days
		}
	}
}

// WithExportOptions passes options to the calendar renderers.
func WithExportOptions(opts ...export.Option) Option {
	return func(r *Router) { r.export = append(r.export, opts...) }
}

// NewRouter creates a feed router mounted at baseURI.
func NewRouter(store storage.Store, baseURI string, opts ...Option) *Router {
	r := &Router{
		store:    store,
		baseURI:  baseURI,
		handlers: make(map[string]http.HandlerFunc),
		now:      time.Now,
		days:     defaultDays,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}

	r.handlers[http.MethodOptions] = r.handleOptions
	r.handlers[http.MethodGet] = r.handleGet
	r.handlers[http.MethodHead] = r.handleGet

	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.log.Debug("received request",
		logx.String("method", req.Method),
		logx.String("path", req.URL.Path),
		logx.String("remote_addr", req.RemoteAddr))

	handler, ok := r.handlers[req.Method]
	if !ok {
		r.log.Warn("method not allowed",
			logx.String("method", req.Method),
			logx.String("path", req.URL.Path))
		w.Header().Set(HeaderAllow, AllowedMethods)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	handler(w, req)
}

func (r *Router) handleOptions(w http.ResponseWriter, req *http.Request) {
	w.Header().Set(HeaderAllow, AllowedMethods)
	w.WriteHeader(http.StatusOK)
}

// StripPrefix removes the baseURI prefix from the path.
func StripPrefix(path, baseURI string) string {
	return strings.TrimPrefix(path, baseURI)
}
