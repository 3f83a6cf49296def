package _switch

import (
	"context"
	"sync"
	"time"

	"github.com/codesync/relay/model"
	"github.com/rs/zerolog"
)

const (
	defaultFwdTimeout = time.Second
)

// Switch owns the wire table: one duplex channel pair per live connection.
// It only moves frames; who receives what is decided by the caller.
type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	wires  map[string]model.Wire
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		wires:  make(map[string]model.Wire),
	}
}

func (sw *Switch) Attach(connID string, wire model.Wire) {
	sw.mx.Lock()
	sw.wires[connID] = wire
	sw.mx.Unlock()
	sw.logger.Debug().
		Str("connID", connID).
		Msg("endpoint attached")
}

func (sw *Switch) Detach(connID string) {
	sw.mx.Lock()
	delete(sw.wires, connID)
	sw.mx.Unlock()
	sw.logger.Debug().
		Str("connID", connID).
		Msg("endpoint detached")
}

// Send forwards out to a single connection. Reports whether delivery
// happened; an unknown or dead endpoint is not an error.
func (sw *Switch) Send(ctx context.Context, connID string, out model.Outbound) bool {
	sw.mx.RLock()
	wire, ok := sw.wires[connID]
	sw.mx.RUnlock()

	if !ok {
		sw.logger.Debug().
			Str("connID", connID).
			Str("event", out.Event).
			Msg("cannot forward, dst not found")
		return false
	}
	sent, _ := sw.push(ctx, connID, wire.TX, out)
	return sent
}

// Fanout forwards out to every listed connection, skipping except when it
// is non-empty.
func (sw *Switch) Fanout(ctx context.Context, connIDs []string, except string, out model.Outbound) {
	var sent bool
	for _, connID := range connIDs {
		if connID == except {
			continue
		}
		sw.mx.RLock()
		wire, ok := sw.wires[connID]
		sw.mx.RUnlock()
		if !ok {
			continue
		}
		ok, canceled := sw.push(ctx, connID, wire.TX, out)
		if canceled {
			break
		}
		if ok {
			sent = true
		}
	}
	if !sent {
		sw.logger.Debug().
			Str("event", out.Event).
			Msg("broadcast did not reach anyone")
	}
}

func (sw *Switch) push(ctx context.Context, connID string, tx chan<- model.Outbound, out model.Outbound) (bool, bool) {
	var sent, canceled bool
	tCh := time.NewTimer(defaultFwdTimeout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-tCh.C:
		sw.logger.Error().
			Str("connID", connID).
			Str("event", out.Event).
			Msg("dead endpoint")
	case tx <- out:
		sent = true
	}
	tCh.Stop()
	return sent, canceled
}
