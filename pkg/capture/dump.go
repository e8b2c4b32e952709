package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/MrWong99/glasslisten/pkg/audio"
)

// DefaultDumpCommand is the system audio dump utility started on darwin.
const DefaultDumpCommand = "SystemAudioDump"

// Dumper starts a process that writes raw little-endian PCM16 system audio.
type Dumper interface {
	// Start launches the process. Closing the returned reader terminates it.
	Start(ctx context.Context) (io.ReadCloser, error)
}

// ExecDumper runs an external command and reads PCM from its stdout.
type ExecDumper struct {
	Command string
	Args    []string
}

var _ Dumper = (*ExecDumper)(nil)

// Start looks up and launches the command. Its stderr is discarded.
func (d *ExecDumper) Start(ctx context.Context) (io.ReadCloser, error) {
	name := d.Command
	if name == "" {
		name = DefaultDumpCommand
	}
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("capture: dump utility %q not found: %w", name, err)
	}
	cmd := exec.CommandContext(ctx, name, d.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: open %s stdout: %w", name, err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: start %s: %w", name, err)
	}
	slog.Info("capture: dump utility started", "command", name, "pid", cmd.Process.Pid)
	return &dumpProcess{cmd: cmd, stdout: stdout}, nil
}

type dumpProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	once   sync.Once
}

func (p *dumpProcess) Read(b []byte) (int, error) { return p.stdout.Read(b) }

// Close kills the process and reaps it. Safe to call more than once.
func (p *dumpProcess) Close() error {
	p.once.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
			_ = p.cmd.Wait()
		}
	})
	return nil
}

// startDump launches the dump utility and pumps its output as reference
// payloads until the process exits or is released.
func (l *lifecycle) startDump(ctx context.Context, d Dumper, format audio.Format, onDrop func()) (<-chan audio.Payload, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: no dump utility configured", ErrNotSupported)
	}
	rc, err := d.Start(ctx)
	if err != nil {
		return nil, err
	}

	out := newSink[audio.Payload](StreamCapacity, onDrop)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer out.close()
		pumpPayloads(rc, format, out)
	}()

	l.onRelease(func() error {
		err := rc.Close()
		wg.Wait()
		return err
	})
	return out.ch, nil
}

// pumpPayloads reads 100 ms blocks of PCM in format from r, converts them to
// mono at [audio.SampleRate] and sends them as payloads. It returns when r
// reports an error; a trailing partial block is still delivered.
func pumpPayloads(r io.Reader, format audio.Format, out *sink[audio.Payload]) {
	conv := &audio.FormatConverter{Source: format}
	block := make([]byte, format.SampleRate/10*format.Channels*2)

	for {
		n, err := io.ReadFull(r, block)
		if n > 0 {
			if mono := conv.Convert(block[:n]); len(mono) > 0 {
				out.send(audio.EncodePayload(mono, time.Now()))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				slog.Debug("capture: dump stream ended", "err", err)
			}
			return
		}
	}
}
