package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/glasslisten/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string // substring; empty means valid
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			wantErr: "server.log_level",
		},
		{
			name:    "tls without key",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\n",
			wantErr: "server.tls",
		},
		{
			name:    "invalid strategy",
			yaml:    "capture:\n  strategy: pulse\n",
			wantErr: "capture.strategy",
		},
		{
			name:    "negative block size",
			yaml:    "audio:\n  block_size: -1\n",
			wantErr: "audio.block_size",
		},
		{
			name:    "vad threshold out of range",
			yaml:    "audio:\n  vad_threshold: 1.5\n",
			wantErr: "audio.vad_threshold",
		},
		{
			name:    "too many dump channels",
			yaml:    "capture:\n  dump_channels: 12\n",
			wantErr: "capture.dump_channels",
		},
		{
			name:    "websocket without url",
			yaml:    "transport:\n  name: websocket\n",
			wantErr: "transport.url",
		},
		{
			name:    "negative queue size",
			yaml:    "transport:\n  queue_size: -4\n",
			wantErr: "transport.queue_size",
		},
		{
			name:    "fallback equals primary",
			yaml:    "transport:\n  name: log\n  fallback: log\n",
			wantErr: "transport.fallback",
		},
		{
			name: "websocket with url",
			yaml: "transport:\n  name: websocket\n  url: ws://localhost:9000/audio\n",
		},
		{
			name: "unknown transport only warns",
			yaml: "transport:\n  name: grpc\n",
		},
		{
			name: "explicit loopback",
			yaml: "capture:\n  strategy: loopback\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
capture:
  strategy: magic
transport:
  name: websocket
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"server.log_level", "capture.strategy", "transport.url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestStrategy_IsValid(t *testing.T) {
	t.Parallel()
	for _, s := range []config.Strategy{config.StrategyAuto, config.StrategyDump, config.StrategyDisplay, config.StrategyLoopback} {
		if !s.IsValid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if config.Strategy("alsa").IsValid() {
		t.Error(`"alsa" should be invalid`)
	}
}
