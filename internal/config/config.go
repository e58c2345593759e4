package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values. These are chosen for typical Tor network
// characteristics: circuits are slow to build, slow to answer, and target
// sites block identities that serve too much traffic.
const (
	// DefaultPoolMinSize is the number of circuits started at boot and
	// maintained outside of shutdown drain.
	DefaultPoolMinSize = 2

	// DefaultPoolMaxSize bounds lazy pool growth under load.
	DefaultPoolMaxSize = 5

	// DefaultCheckoutTimeout is how long a dispatch worker waits for a
	// Ready node before the checkout fails as pool exhaustion.
	DefaultCheckoutTimeout = 30 * time.Second

	// DefaultProbeInterval is the health-probe period per node.
	DefaultProbeInterval = 45 * time.Second

	// DefaultMaxCircuitAge is the identity age after which rotation is
	// requested regardless of failure history. Spreading requests over
	// fresh identities keeps any single exit from accumulating volume
	// that triggers target-side blocking.
	DefaultMaxCircuitAge = 15 * time.Minute

	// DefaultFailureThreshold is the consecutive-failure count at which
	// a node is rotated in place.
	DefaultFailureThreshold = 3

	// DefaultRetireThreshold is the consecutive-failure count at which a
	// node is destroyed instead of rotated. Must exceed FailureThreshold
	// so rotation is always tried first.
	DefaultRetireThreshold = 6

	// DefaultQuarantineCeiling is the cumulative quarantine time after
	// which a node is retired even if it never hits the failure threshold.
	DefaultQuarantineCeiling = 10 * time.Minute

	// DefaultRequestTimeout bounds one outbound scrape request.
	// Tor round trips through three relays; clearnet-style timeouts
	// would fail most healthy circuits.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultBackoffBase, DefaultBackoffCap, and DefaultBackoffJitter
	// shape the retry delay: min(base*2^attempt, cap) + jitter(0, window).
	DefaultBackoffBase   = 2 * time.Second
	DefaultBackoffCap    = 2 * time.Minute
	DefaultBackoffJitter = 1 * time.Second

	// DefaultDispatchWorkers is the number of concurrent dispatch workers.
	DefaultDispatchWorkers = 4

	// DefaultGrowCooldown is how long pool growth stays disabled after a
	// circuit fails to start.
	DefaultGrowCooldown = 30 * time.Second

	// DefaultStartupTimeout is the maximum wait for a new circuit to
	// bootstrap before the growth attempt is abandoned.
	DefaultStartupTimeout = 3 * time.Minute

	// DefaultDockerImage is the image run per circuit by the docker
	// runtime. The image is expected to run tor with SocksPort 9050 and
	// ControlPort 9051 reachable inside the container.
	DefaultDockerImage = "torcirc/circuit:latest"

	// DefaultPortRangeMin and DefaultPortRangeMax bound the host ports
	// mapped onto container SOCKS and control ports.
	DefaultPortRangeMin = 40001
	DefaultPortRangeMax = 60001

	// DefaultProbeURL is the known-reachable target used for health
	// probes and exit-IP discovery. It answers with the caller's
	// public address in the response body.
	DefaultProbeURL = "https://checkip.amazonaws.com"

	// DefaultListenAddr is the job-intake HTTP address.
	DefaultListenAddr = "127.0.0.1:8315"

	// DefaultMaxBodySize caps the scraped response body kept per job.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// AppName is used for XDG directory paths.
	AppName = "torcirc"
)

// RuntimeKind selects how circuits are physically instantiated.
type RuntimeKind string

const (
	// RuntimeDocker runs one Tor container per circuit via the docker CLI.
	RuntimeDocker RuntimeKind = "docker"

	// RuntimeEmbedded runs one embedded Tor process per circuit via tornago.
	RuntimeEmbedded RuntimeKind = "embedded"
)

// Config holds all torcirc settings. It is populated from defaults, then an
// optional YAML file, then CLI flags, and passed by pointer through the
// application; there is no global configuration state.
type Config struct {
	// PoolMinSize and PoolMaxSize bound the circuit pool. The pool is
	// pre-warmed to min at startup and grows lazily up to max on demand.
	PoolMinSize int `yaml:"pool_min_size"`
	PoolMaxSize int `yaml:"pool_max_size"`

	// CheckoutTimeout is the longest a checkout blocks waiting for a
	// Ready node or for growth to complete.
	CheckoutTimeout time.Duration `yaml:"checkout_timeout"`

	// ProbeInterval is the per-node health probe period.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// MaxCircuitAge triggers age-based identity rotation.
	MaxCircuitAge time.Duration `yaml:"max_circuit_age"`

	// FailureThreshold is the consecutive-failure count that triggers
	// in-place rotation; RetireThreshold triggers teardown instead.
	FailureThreshold int `yaml:"failure_threshold"`
	RetireThreshold  int `yaml:"retire_threshold"`

	// QuarantineCeiling retires nodes whose cumulative quarantine time
	// exceeds it.
	QuarantineCeiling time.Duration `yaml:"quarantine_ceiling"`

	// RequestTimeout bounds each outbound scrape request.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// BackoffBase, BackoffCap, and BackoffJitter shape retry delays.
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffCap    time.Duration `yaml:"backoff_cap"`
	BackoffJitter time.Duration `yaml:"backoff_jitter"`

	// DispatchWorkers is the number of concurrent dispatch workers.
	DispatchWorkers int `yaml:"dispatch_workers"`

	// GrowCooldown disables pool growth for this long after a circuit
	// fails to start.
	GrowCooldown time.Duration `yaml:"grow_cooldown"`

	// StartupTimeout bounds circuit bootstrap during pool growth.
	StartupTimeout time.Duration `yaml:"startup_timeout"`

	// Runtime selects docker containers or embedded Tor processes.
	Runtime RuntimeKind `yaml:"runtime"`

	// DockerImage is the per-circuit container image (docker runtime only).
	DockerImage string `yaml:"docker_image"`

	// PortRangeMin and PortRangeMax bound host port allocation
	// (docker runtime only).
	PortRangeMin int `yaml:"port_range_min"`
	PortRangeMax int `yaml:"port_range_max"`

	// ProbeURL is the known-reachable target for health probes and
	// exit-IP discovery.
	ProbeURL string `yaml:"probe_url"`

	// ListenAddr is the job-intake HTTP address. Empty disables intake.
	ListenAddr string `yaml:"listen_addr"`

	// MaxBodySize caps the response body retained per job.
	MaxBodySize int64 `yaml:"max_body_size"`

	// DBDir is the directory for the SQLite run database. Empty disables
	// persistence. Defaults to the XDG data directory.
	DBDir string `yaml:"db_dir"`

	// Verbose enables slog.LevelDebug output.
	Verbose bool `yaml:"-"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		PoolMinSize:       DefaultPoolMinSize,
		PoolMaxSize:       DefaultPoolMaxSize,
		CheckoutTimeout:   DefaultCheckoutTimeout,
		ProbeInterval:     DefaultProbeInterval,
		MaxCircuitAge:     DefaultMaxCircuitAge,
		FailureThreshold:  DefaultFailureThreshold,
		RetireThreshold:   DefaultRetireThreshold,
		QuarantineCeiling: DefaultQuarantineCeiling,
		RequestTimeout:    DefaultRequestTimeout,
		BackoffBase:       DefaultBackoffBase,
		BackoffCap:        DefaultBackoffCap,
		BackoffJitter:     DefaultBackoffJitter,
		DispatchWorkers:   DefaultDispatchWorkers,
		GrowCooldown:      DefaultGrowCooldown,
		StartupTimeout:    DefaultStartupTimeout,
		Runtime:           RuntimeEmbedded,
		DockerImage:       DefaultDockerImage,
		PortRangeMin:      DefaultPortRangeMin,
		PortRangeMax:      DefaultPortRangeMax,
		ProbeURL:          DefaultProbeURL,
		ListenAddr:        DefaultListenAddr,
		MaxBodySize:       DefaultMaxBodySize,
		DBDir:             DefaultDBDir(),
	}
}

// DefaultDBDir returns the XDG data directory for the run database
// (~/.local/share/torcirc on Linux).
func DefaultDBDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// Validate checks the configuration for internal consistency.
// It returns the first violation found as a sentinel error.
func (c *Config) Validate() error {
	if c.PoolMinSize < 1 {
		return ErrInvalidPoolMin
	}
	if c.PoolMaxSize < c.PoolMinSize {
		return ErrInvalidPoolMax
	}
	if c.CheckoutTimeout <= 0 {
		return ErrInvalidCheckoutTimeout
	}
	if c.ProbeInterval <= 0 {
		return ErrInvalidProbeInterval
	}
	if c.FailureThreshold < 1 {
		return ErrInvalidFailureThreshold
	}
	if c.RetireThreshold <= c.FailureThreshold {
		return ErrRetireBelowRotate
	}
	if c.RequestTimeout <= 0 {
		return ErrInvalidRequestTimeout
	}
	if c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase || c.BackoffJitter < 0 {
		return ErrInvalidBackoff
	}
	if c.DispatchWorkers < 1 {
		return ErrInvalidWorkerCount
	}
	if c.Runtime != RuntimeDocker && c.Runtime != RuntimeEmbedded {
		return ErrUnknownRuntime
	}
	if c.Runtime == RuntimeDocker && (c.PortRangeMin < 1024 || c.PortRangeMax <= c.PortRangeMin) {
		return ErrInvalidPortRange
	}
	return nil
}
