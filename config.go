package modbus

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/GoAethereal/cancel"

	modbusserial "github.com/modbusgo/modbus/serial"
)

// TransportKind selects the physical layer a Config dials or listens on
// (spec.md §6).
type TransportKind int

const (
	TransportTCP TransportKind = iota
	TransportTLS
	TransportRTU
)

// TLSClientConfig configures the TLS transport's certificate policy
// (spec.md §6). ServerName is sent as the SNI extension only; an
// *AuthorityVerifier matches the peer certificate against its own
// ServerName field, not this one.
type TLSClientConfig struct {
	ServerName string
	Verifier   CertVerifier
}

// Config configures a Client or a Server's dial/listen step (spec.md §6).
type Config struct {
	Transport TransportKind

	// Host is "host:port", used for TransportTCP and TransportTLS.
	Host string
	TLS  *TLSClientConfig

	// Serial configures the link for TransportRTU.
	Serial modbusserial.Config

	UnitID UnitId

	// MaxQueuedRequests bounds the client channel's request queue
	// (spec.md §4.5). Zero means the library default.
	MaxQueuedRequests int

	// Retry supplies reconnect delays (spec.md §4.6). Nil selects a
	// default geometric backoff between 100ms and 30s.
	Retry RetryStrategy

	// Listener receives client channel state transitions (spec.md §6). May be nil.
	Listener Listener
}

const defaultMaxQueuedRequests = 32

func (cfg Config) maxQueuedRequests() int {
	if cfg.MaxQueuedRequests > 0 {
		return cfg.MaxQueuedRequests
	}
	return defaultMaxQueuedRequests
}

func (cfg Config) retry() RetryStrategy {
	if cfg.Retry != nil {
		return cfg.Retry
	}
	return NewBackoffRetryStrategy(100*time.Millisecond, 30*time.Second)
}

// dial establishes the transport described by cfg. ctx is a cancel.Context
// so an in-progress dial is interrupted by shutdown the same way every
// other suspension point in the channel task is (spec.md §5).
func (cfg Config) dial(ctx cancel.Context) (transport, error) {
	switch cfg.Transport {
	case TransportTCP:
		std, done := cancel.Promote(ctx)
		defer done()
		conn, err := new(net.Dialer).DialContext(std, "tcp", cfg.Host)
		if err != nil {
			return nil, &TransportError{Err: err}
		}
		return newMBAPTransport(conn), nil

	case TransportTLS:
		std, done := cancel.Promote(ctx)
		defer done()
		conn, err := new(net.Dialer).DialContext(std, "tcp", cfg.Host)
		if err != nil {
			return nil, &TransportError{Err: err}
		}
		tlsCfg := NewTLSConfig(cfg.TLS.Verifier)
		tlsCfg.ServerName = cfg.TLS.ServerName
		tc := tls.Client(conn, tlsCfg)
		if err := tc.HandshakeContext(std); err != nil {
			conn.Close()
			return nil, &TransportError{Err: err}
		}
		return newMBAPTransport(tc), nil

	case TransportRTU:
		port, err := modbusserial.Open(cfg.Serial)
		if err != nil {
			return nil, &TransportError{Err: err}
		}
		return newRTUTransport(port), nil

	default:
		return nil, ErrInternal
	}
}

// listen opens a TCP or TLS listener for the server side of cfg.
// TransportRTU has no listener: ServeRTU is driven directly off an opened
// serial port (spec.md §6 — RTU is a shared multi-drop bus, not something
// accepted per-connection).
func (cfg Config) listen() (net.Listener, error) {
	switch cfg.Transport {
	case TransportTCP:
		return net.Listen("tcp", cfg.Host)
	case TransportTLS:
		l, err := net.Listen("tcp", cfg.Host)
		if err != nil {
			return nil, err
		}
		tlsCfg := NewTLSConfig(cfg.TLS.Verifier)
		// Mutual authentication: request the client's certificate so Go
		// invokes VerifyPeerCertificate on the server side too.
		tlsCfg.ClientAuth = tls.RequireAnyClientCert
		return tls.NewListener(l, tlsCfg), nil
	default:
		return nil, ErrInternal
	}
}
