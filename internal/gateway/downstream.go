package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/contractgate/contractgate/internal/config"
)

// stubUpstream is the downstream key of routes without an upstream.
const stubUpstream = ""

func newDownstreams(cfg *config.Config) (map[string]http.Handler, error) {
	handlers := map[string]http.Handler{
		stubUpstream: stubHandler(cfg.Stub),
	}

	transport := newTransport(cfg.Limits.Timeout)
	for _, upstream := range cfg.Upstreams {
		target, err := url.Parse(upstream.URL)
		if err != nil {
			return nil, fmt.Errorf("parse upstream %s: %w", upstream.Name, err)
		}
		proxy := httputil.NewSingleHostReverseProxy(target)
		proxy.Transport = transport
		proxy.ErrorHandler = proxyErrorHandler
		handlers[upstream.Name] = proxy
	}
	return handlers, nil
}

func stubHandler(stub config.StubConfig) http.Handler {
	body := []byte(stub.Body)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", stub.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(stub.StatusCode)
		_, _ = w.Write(body)
	})
}

func proxyErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
	default:
		http.Error(w, "upstream error", http.StatusBadGateway)
	}
}

func newTransport(timeout time.Duration) *http.Transport {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
}
