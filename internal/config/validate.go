package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/contractgate/contractgate/internal/logging"
	"github.com/contractgate/contractgate/internal/ratelimit"
)

type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%d validation error(s)", len(v.Problems))
}

func (c *Config) Validate() error {
	v := &ValidationError{}

	if c.ConfigVersion != 1 {
		v.Add("configVersion must be 1")
	}

	if err := validateListen(c.Server.Listen); err != nil {
		v.Add("server.listen invalid: %v", err)
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			v.Add("server.tls.certFile required when tls.enabled is true")
		}
		if c.Server.TLS.KeyFile == "" {
			v.Add("server.tls.keyFile required when tls.enabled is true")
		}
		if c.Server.TLS.CertFile != "" {
			if err := requireFile(c.resolvePath(c.Server.TLS.CertFile)); err != nil {
				v.Add("server.tls.certFile invalid: %v", err)
			}
		}
		if c.Server.TLS.KeyFile != "" {
			if err := requireFile(c.resolvePath(c.Server.TLS.KeyFile)); err != nil {
				v.Add("server.tls.keyFile invalid: %v", err)
			}
		}
	}

	if c.Engine.Library == "" {
		v.Add("engine.library is required")
	} else if err := requireFile(c.resolvePath(c.Engine.Library)); err != nil {
		v.Add("engine.library invalid: %v", err)
	}
	if c.Engine.Spec != "" {
		if err := ensureReadable(c.resolvePath(c.Engine.Spec)); err != nil {
			v.Add("engine.spec invalid: %v", err)
		}
	}
	if c.Engine.ErrorFormat == "" {
		v.Add("engine.errorFormat is required")
	}
	if c.Engine.MaxConcurrentCalls < 0 {
		v.Add("engine.maxConcurrentCalls must be >= 0")
	}

	if c.Metrics.Enabled {
		if err := validateListen(c.Metrics.Listen); err != nil {
			v.Add("metrics.listen invalid: %v", err)
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		v.Add("logging.level invalid: %v", err)
	}
	switch logging.Format(c.Logging.Format) {
	case logging.FormatText, logging.FormatJSON:
	default:
		v.Add("logging.format must be text|json")
	}

	upstreamNames := map[string]struct{}{}
	for i, upstream := range c.Upstreams {
		if upstream.Name == "" {
			v.Add("upstreams[%d].name is required", i)
		} else if _, exists := upstreamNames[upstream.Name]; exists {
			v.Add("upstreams[%d].name %q is duplicated", i, upstream.Name)
		} else {
			upstreamNames[upstream.Name] = struct{}{}
		}

		if upstream.URL == "" {
			v.Add("upstreams[%d].url is required", i)
		} else if err := validateURL(upstream.URL); err != nil {
			v.Add("upstreams[%d].url invalid: %v", i, err)
		}
	}

	if len(c.Routes) == 0 {
		v.Add("routes must not be empty")
	}
	for i, route := range c.Routes {
		if route.Match.PathPrefix == "" {
			v.Add("routes[%d].match.pathPrefix is required", i)
		} else if !strings.HasPrefix(route.Match.PathPrefix, "/") {
			v.Add("routes[%d].match.pathPrefix must start with /", i)
		}
		if route.Upstream != "" {
			if _, exists := upstreamNames[route.Upstream]; !exists {
				v.Add("routes[%d].upstream %q does not exist", i, route.Upstream)
			}
		}
		if route.Spec != "" {
			if err := ensureReadable(c.resolvePath(route.Spec)); err != nil {
				v.Add("routes[%d].spec invalid: %v", i, err)
			}
		} else if c.Engine.Spec == "" {
			v.Add("routes[%d] has no spec and engine.spec is empty", i)
		}
	}

	if c.Stub.StatusCode < 100 || c.Stub.StatusCode > 599 {
		v.Add("stub.statusCode must be a valid HTTP status")
	}

	if c.Limits.MaxBodyBytes <= 0 {
		v.Add("limits.maxBodyBytes must be > 0")
	}
	if c.Limits.MaxHeaderBytes <= 0 {
		v.Add("limits.maxHeaderBytes must be > 0")
	}
	if c.Limits.Timeout <= 0 {
		v.Add("limits.timeout must be > 0")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 {
			v.Add("rateLimit.rps must be > 0")
		}
		if c.RateLimit.Burst <= 0 {
			v.Add("rateLimit.burst must be > 0")
		}
		switch ratelimit.KeyType(c.RateLimit.Key) {
		case "", ratelimit.KeyIP, ratelimit.KeyIPPath:
		default:
			v.Add("rateLimit.key must be ip|ip_path")
		}
	}

	if len(v.Problems) > 0 {
		sort.Strings(v.Problems)
		return v
	}
	return nil
}

func validateListen(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("address is required")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("must include scheme and host")
	}
	return nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func ensureReadable(path string) error {
	if err := requireFile(path); err != nil {
		return err
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	return file.Close()
}
