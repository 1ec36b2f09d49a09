package gateway

import (
	"cmp"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"

	"github.com/contractgate/contractgate/internal/config"
)

// Route is a configured route with its contract resolved. Spec is the path
// handed to the engine for every request on the route.
type Route struct {
	ID         string
	Host       string
	PathPrefix string
	Upstream   string
	Spec       string
}

// covers reports whether path lies under the route prefix. "/orders" covers
// "/orders" and "/orders/7" but not "/ordersheet".
func (r Route) covers(path string) bool {
	if !strings.HasPrefix(path, r.PathPrefix) {
		return false
	}
	if len(path) == len(r.PathPrefix) || strings.HasSuffix(r.PathPrefix, "/") {
		return true
	}
	return path[len(r.PathPrefix)] == '/'
}

// Router picks the most specific route: longest prefix first, and among equal
// prefixes a host route before a catch-all one.
type Router struct {
	routes []Route
}

func NewRouter(cfg *config.Config) (*Router, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	routes := make([]Route, 0, len(cfg.Routes))
	for i, rc := range cfg.Routes {
		if !strings.HasPrefix(rc.Match.PathPrefix, "/") {
			return nil, fmt.Errorf("routes[%d]: pathPrefix %q must start with /", i, rc.Match.PathPrefix)
		}
		routes = append(routes, Route{
			ID:         fmt.Sprintf("route-%d", i),
			Host:       strings.ToLower(strings.TrimSpace(rc.Match.Host)),
			PathPrefix: rc.Match.PathPrefix,
			Upstream:   rc.Upstream,
			Spec:       cfg.SpecFor(rc),
		})
	}

	slices.SortStableFunc(routes, func(a, b Route) int {
		if c := cmp.Compare(len(b.PathPrefix), len(a.PathPrefix)); c != 0 {
			return c
		}
		return cmp.Compare(hostRank(a), hostRank(b))
	})

	return &Router{routes: routes}, nil
}

func hostRank(r Route) int {
	if r.Host == "" {
		return 1
	}
	return 0
}

func (r *Router) Match(req *http.Request) (Route, bool) {
	if req == nil || req.URL == nil {
		return Route{}, false
	}

	host := requestHost(req.Host)
	path := cleanPath(req.URL.Path)
	for _, route := range r.routes {
		if route.Host != "" && route.Host != host {
			continue
		}
		if route.covers(path) {
			return route, true
		}
	}
	return Route{}, false
}

func requestHost(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		hostport = host
	}
	return strings.ToLower(hostport)
}
