package proxy

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/qapish/labman/internal/adapter/registry"
	"github.com/qapish/labman/internal/core/ports"
	"github.com/qapish/labman/internal/logger"
	"github.com/qapish/labman/pkg/eventbus"
	"github.com/qapish/labman/pkg/pool"
)

const (
	DefaultConnectionTimeout = 30 * time.Second
	DefaultResponseTimeout   = 10 * time.Minute
	DefaultKeepAlive         = 60 * time.Second
	DefaultStreamBufferSize  = 8 * 1024

	DefaultMaxIdleConns        = 20
	DefaultMaxIdleConnsPerHost = 5
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second

	defaultMaxRequestBodyBytes = 32 << 20
)

// Configuration holds the proxy's tunables. The zero value is usable; unset
// fields fall back to the defaults above.
type Configuration struct {
	ConnectionTimeout time.Duration
	ResponseTimeout   time.Duration
	StreamBufferSize  int
}

func (c *Configuration) connectionTimeout() time.Duration {
	if c.ConnectionTimeout <= 0 {
		return DefaultConnectionTimeout
	}
	return c.ConnectionTimeout
}

func (c *Configuration) responseTimeout() time.Duration {
	if c.ResponseTimeout <= 0 {
		return DefaultResponseTimeout
	}
	return c.ResponseTimeout
}

func (c *Configuration) streamBufferSize() int {
	if c.StreamBufferSize <= 0 {
		return DefaultStreamBufferSize
	}
	return c.StreamBufferSize
}

// Service is the OpenAI-compatible proxy: it resolves model -> upstream via
// the registry and forwards request and response bytes untouched.
type Service struct {
	registry      *registry.EndpointRegistry
	metrics       ports.MetricsRecorder
	logger        *slog.Logger
	transport     *http.Transport
	bufferPool    *pool.Pool[*[]byte]
	events        *eventbus.EventBus[Event]
	configuration Configuration
}

// NewService creates the proxy service with a shared tuned transport.
func NewService(
	reg *registry.EndpointRegistry,
	metrics ports.MetricsRecorder,
	configuration Configuration,
	log *slog.Logger,
) *Service {
	plog := log.With(logger.ComponentKey, "proxy")

	bufferPool := pool.NewLitePool(func() *[]byte {
		buf := make([]byte, configuration.streamBufferSize())
		return &buf
	})

	transport := &http.Transport{
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{
				Timeout:   configuration.connectionTimeout(),
				KeepAlive: DefaultKeepAlive,
			}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// disable Nagle's algorithm for token streaming
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				if terr := tcpConn.SetNoDelay(true); terr != nil {
					plog.Warn("failed to set NoDelay", "error", terr)
				}
			}
			return conn, nil
		},
	}

	return &Service{
		registry:      reg,
		metrics:       metrics,
		logger:        plog,
		transport:     transport,
		bufferPool:    bufferPool,
		events:        eventbus.New[Event](),
		configuration: configuration,
	}
}

// Events exposes the proxy's event bus for status aggregation.
func (s *Service) Events() *eventbus.EventBus[Event] {
	return s.events
}

// Handler returns the proxy's HTTP surface.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	return mux
}

// Cleanup releases pooled connections and stops the event bus.
func (s *Service) Cleanup() {
	if s.transport != nil {
		s.transport.CloseIdleConnections()
	}
	s.events.Shutdown()
	s.logger.Debug("proxy service cleaned up")
}
