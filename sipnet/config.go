package sipnet

import "time"

// MaxSIPMessageBytes bounds a single SIP message; the stream accumulation
// buffer is sized to 2x this per spec.md §3.
const MaxSIPMessageBytes = 4096

// Config collects the tunables enumerated in spec.md §6. Start from
// DefaultConfig() and override fields as needed; channel constructors
// replace any zero or negative duration or count with its DefaultConfig()
// value, so a zero Config behaves like DefaultConfig().
type Config struct {
	// DisableLocalLoopbackCheck permits sending to a (local_addr, local_port)
	// this process itself listens on. Intended for tests.
	DisableLocalLoopbackCheck bool

	// BypassCertificateValidation accepts SSL-policy-invalid certificates.
	// Development only; discouraged by default.
	BypassCertificateValidation bool

	// PruneInterval is how often the idle pruner sweeps a stream channel's
	// connection pool.
	PruneInterval time.Duration

	// PruneIdleTimeout is how long a connection may sit without a send or
	// receive before the pruner closes it.
	PruneIdleTimeout time.Duration

	// TCPConnectTimeout bounds an outbound TCP dial.
	TCPConnectTimeout time.Duration

	// TLSHandshakeTimeout bounds a TLS handshake, client or server side.
	TLSHandshakeTimeout time.Duration

	// MaxStreamConnections is carried in the configuration (and defaulted)
	// but no channel reads it: the accept loops accept every inbound
	// connection regardless of pool size.
	MaxStreamConnections int

	// UDPFailedDestinationTTL is how long a destination stays in the
	// failed-destination set after an ICMP-indicated send failure.
	UDPFailedDestinationTTL time.Duration
}

// DefaultConfig returns the knob defaults from spec.md §6.
func DefaultConfig() Config {
	return Config{
		DisableLocalLoopbackCheck:   false,
		BypassCertificateValidation: false,
		PruneInterval:               60 * time.Second,
		PruneIdleTimeout:            70 * time.Minute,
		TCPConnectTimeout:           5 * time.Second,
		TLSHandshakeTimeout:         5 * time.Second,
		MaxStreamConnections:        1000,
		UDPFailedDestinationTTL:     30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.PruneInterval <= 0 {
		c.PruneInterval = d.PruneInterval
	}
	if c.PruneIdleTimeout <= 0 {
		c.PruneIdleTimeout = d.PruneIdleTimeout
	}
	if c.TCPConnectTimeout <= 0 {
		c.TCPConnectTimeout = d.TCPConnectTimeout
	}
	if c.TLSHandshakeTimeout <= 0 {
		c.TLSHandshakeTimeout = d.TLSHandshakeTimeout
	}
	if c.MaxStreamConnections <= 0 {
		c.MaxStreamConnections = d.MaxStreamConnections
	}
	if c.UDPFailedDestinationTTL <= 0 {
		c.UDPFailedDestinationTTL = d.UDPFailedDestinationTTL
	}
}
