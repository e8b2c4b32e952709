package app

import (
	"context"
	"errors"

	"github.com/MrWong99/glasslisten/internal/config"
	"github.com/MrWong99/glasslisten/pkg/transport"
)

// Built-in transport names.
const (
	TransportWebSocket = "websocket"
	TransportLog       = "log"
)

// RegisterBuiltinTransports registers the sinks shipped with glasslisten.
func RegisterBuiltinTransports(reg *config.Registry) {
	reg.RegisterTransport(TransportWebSocket, func(ctx context.Context, cfg config.TransportConfig) (transport.Sink, error) {
		if cfg.URL == "" {
			return nil, errors.New("websocket transport requires url")
		}
		opts := make([]transport.WebSocketOption, 0, len(cfg.Headers))
		for k, v := range cfg.Headers {
			opts = append(opts, transport.WithHeader(k, v))
		}
		return transport.DialWebSocket(ctx, cfg.URL, opts...)
	})
	reg.RegisterTransport(TransportLog, func(context.Context, config.TransportConfig) (transport.Sink, error) {
		return transport.NewLogSink(), nil
	})
}
