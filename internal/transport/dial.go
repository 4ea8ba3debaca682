package transport

import "fmt"

// Listener is the accept-loop contract shared by the TCP and TLS
// listeners, letting internal/manager dispatch on Protocol without
// caring which concrete type backs it (mirrors the teacher's socket.go
// factory-style construction, NewTransport(protocol), generalized to a
// listener-side factory).
type Listener interface {
	Accept() (Transport, error)
	Close() error
}

// Dial connects to host:port over proto, optionally under TLS. For Pipe,
// host is the pipe id and port is ignored.
func Dial(host string, port int, proto Protocol, cfg *Config) (Transport, error) {
	switch proto {
	case TCP:
		return DialTCP(host, port)
	case SSL:
		if cfg == nil {
			cfg = &Config{}
		}
		return DialTLS(host, port, cfg)
	case Pipe:
		return dialPipeTransport(host)
	default:
		return nil, fmt.Errorf("unknown transport protocol %q", proto)
	}
}

// Listen binds host:port for proto, optionally under TLS. The concrete
// *TCPListener/*TLSListener types returned by ListenTCP/ListenTLS each
// accept into their own transport type, not the Transport interface, so
// Go's lack of covariant return types means they can't satisfy Listener
// directly; the adapters below bridge that.
func Listen(host string, port int, backlog int, proto Protocol, cfg *Config) (Listener, error) {
	switch proto {
	case TCP:
		ln, err := ListenTCP(host, port, backlog)
		if err != nil {
			return nil, err
		}
		return tcpListenerAdapter{ln}, nil
	case SSL:
		if cfg == nil {
			return nil, fmt.Errorf("an SSL listener requires a Config (cert/key)")
		}
		ln, err := ListenTLS(host, port, backlog, cfg)
		if err != nil {
			return nil, err
		}
		return tlsListenerAdapter{ln}, nil
	case Pipe:
		return listenPipeTransport(host)
	default:
		return nil, fmt.Errorf("unknown transport protocol %q", proto)
	}
}

// adapt wraps a concrete *TCPListener/*TLSListener's narrowly-typed
// Accept into the Listener interface's Transport-returning Accept.
type tcpListenerAdapter struct{ *TCPListener }

func (a tcpListenerAdapter) Accept() (Transport, error) { return a.TCPListener.Accept() }

type tlsListenerAdapter struct{ *TLSListener }

func (a tlsListenerAdapter) Accept() (Transport, error) { return a.TLSListener.Accept() }
