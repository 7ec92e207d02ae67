package classradio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/exepirit/classradio/internal/log"
)

// LineConn is a newline-delimited byte stream between the hub and its host.
type LineConn interface {
	// ReadLine blocks until a full line (without its terminator) is read or ctx is done.
	ReadLine(ctx context.Context) ([]byte, error)
	WriteLine(ctx context.Context, line []byte) error
}

var _ EventSink = &HubBridge{}

// HubBridge is the hub end of the host link: events out, commands in.
type HubBridge struct {
	Conn   LineConn
	Logger log.Logger
}

// OnEvent writes event as one JSON line. Write failures are logged and dropped.
func (b *HubBridge) OnEvent(event HostEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		log.OrDefault(b.Logger).Error("Cannot encode event", "type", event.Type, "error", err)
		return
	}
	if err := b.Conn.WriteLine(context.Background(), line); err != nil {
		log.OrDefault(b.Logger).Warn("Cannot write event", "type", event.Type, "error", err)
	}
}

// Serve reads command lines and submits them to hub until the link closes or ctx is done.
// Lines that are not valid commands are answered with an error event.
func (b *HubBridge) Serve(ctx context.Context, hub *Hub) error {
	logger := log.OrDefault(b.Logger)
	for {
		line, err := b.Conn.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if len(line) == 0 {
			continue
		}

		cmd, err := ParseHostCommand(line)
		if err != nil {
			logger.Warn("Rejected host command", "line", string(line), "error", err)
			b.OnEvent(HostEvent{Type: EventError, Msg: err.Error()})
			continue
		}
		if err := hub.Submit(cmd); err != nil {
			b.OnEvent(HostEvent{Type: EventError, Msg: fmt.Sprintf("%s: %v", cmd.Type, err)})
		}
	}
}

// HostLink is the host end of the link: commands out, events in.
type HostLink struct {
	Conn   LineConn
	Logger log.Logger
}

// Send writes cmd as one JSON line.
func (l *HostLink) Send(ctx context.Context, cmd HostCommand) error {
	line, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}
	return l.Conn.WriteLine(ctx, line)
}

// Events yields the hub's events. Undecodable lines yield an error and the
// stream goes on; it ends when the link closes or ctx is done.
func (l *HostLink) Events(ctx context.Context) iter.Seq2[HostEvent, error] {
	return func(yield func(HostEvent, error) bool) {
		for {
			line, err := l.Conn.ReadLine(ctx)
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					yield(HostEvent{}, err)
				}
				return
			}
			if len(line) == 0 {
				continue
			}
			if !yield(ParseHostEvent(line)) {
				return
			}
		}
	}
}
