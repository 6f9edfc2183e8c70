package ui

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// NewToolProxy returns a reverse proxy for the tool server, used in
// development so the browser can reach it without cross-origin
// restrictions. Production clients talk to the tool server directly.
func NewToolProxy(target, prefix string, logger zerolog.Logger) (http.Handler, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid tool server URL %q: %w", target, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("tool server URL %q must be absolute", target)
	}

	proxyLogger := logger.With().Str("component", "tool-proxy").Logger()
	proxy := httputil.NewSingleHostReverseProxy(parsed)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		proxyLogger.Warn().Err(err).Str("path", r.URL.Path).Msg("Tool server proxy error")
		w.WriteHeader(http.StatusBadGateway)
	}

	return http.StripPrefix(strings.TrimSuffix(prefix, "/"), proxy), nil
}
