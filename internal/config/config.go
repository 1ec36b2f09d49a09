package config

import "time"

type Config struct {
	ConfigVersion int             `yaml:"configVersion"`
	Server        ServerConfig    `yaml:"server"`
	Engine        EngineConfig    `yaml:"engine"`
	Upstreams     []Upstream      `yaml:"upstreams"`
	Routes        []Route         `yaml:"routes"`
	Stub          StubConfig      `yaml:"stub"`
	Limits        Limits          `yaml:"limits"`
	RateLimit     RateLimitConfig `yaml:"rateLimit"`
	Logging       LoggingConfig   `yaml:"logging"`
	Metrics       MetricsConfig   `yaml:"metrics"`

	baseDir string `yaml:"-"`
}

type ServerConfig struct {
	Listen               string    `yaml:"listen"`
	TLS                  TLSConfig `yaml:"tls"`
	RejectUnknownMethods bool      `yaml:"rejectUnknownMethods"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

// EngineConfig locates libjsight and the API specification it checks against.
type EngineConfig struct {
	Library            string `yaml:"library"`
	Spec               string `yaml:"spec"`
	ErrorFormat        string `yaml:"errorFormat"`
	MaxConcurrentCalls int    `yaml:"maxConcurrentCalls"`
}

type Upstream struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Route sends matching traffic to an upstream, or to the stub when Upstream is
// empty. Spec overrides engine.spec for this route.
type Route struct {
	Match    RouteMatch `yaml:"match"`
	Upstream string     `yaml:"upstream"`
	Spec     string     `yaml:"spec"`
}

type RouteMatch struct {
	Host       string `yaml:"host"`
	PathPrefix string `yaml:"pathPrefix"`
}

// StubConfig is the fixed response served for routes without an upstream.
type StubConfig struct {
	StatusCode  int    `yaml:"statusCode"`
	ContentType string `yaml:"contentType"`
	Body        string `yaml:"body"`
}

type Limits struct {
	MaxBodyBytes   int64         `yaml:"maxBodyBytes"`
	MaxHeaderBytes int64         `yaml:"maxHeaderBytes"`
	Timeout        time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Key        string  `yaml:"key"`
	RPS        float64 `yaml:"rps"`
	Burst      int     `yaml:"burst"`
	StatusCode int     `yaml:"statusCode"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	DecisionLog string `yaml:"decisionLog"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

const (
	DefaultListen      = "0.0.0.0:8000"
	DefaultLibrary     = "/opt/lib/libjsight.so"
	DefaultErrorFormat = "json"
	DefaultStubBody    = "Hello, World!"
)

func (c *Config) BaseDir() string {
	return c.baseDir
}

func (c *Config) ResolvePath(path string) string {
	return c.resolvePath(path)
}

// SpecFor returns the resolved spec path for a route.
func (c *Config) SpecFor(route Route) string {
	if route.Spec != "" {
		return c.resolvePath(route.Spec)
	}
	return c.resolvePath(c.Engine.Spec)
}

// ApplyDefaults fills unset fields with the gateway defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Engine.Library == "" {
		c.Engine.Library = DefaultLibrary
	}
	if c.Engine.ErrorFormat == "" {
		c.Engine.ErrorFormat = DefaultErrorFormat
	}
	if len(c.Routes) == 0 {
		c.Routes = []Route{{Match: RouteMatch{PathPrefix: "/"}}}
	}
	if c.Stub.StatusCode == 0 {
		c.Stub.StatusCode = 200
	}
	if c.Stub.ContentType == "" {
		c.Stub.ContentType = "text/plain; charset=utf-8"
	}
	if c.Stub.Body == "" {
		c.Stub.Body = DefaultStubBody
	}
	if c.Limits.MaxBodyBytes == 0 {
		c.Limits.MaxBodyBytes = 10 << 20
	}
	if c.Limits.MaxHeaderBytes == 0 {
		c.Limits.MaxHeaderBytes = 64 << 10
	}
	if c.Limits.Timeout == 0 {
		c.Limits.Timeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9090"
	}
}
