package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/presence/internal/core"
	"github.com/dkeye/presence/internal/domain"
)

// Presence drives the membership protocol on top of the registry: joins
// coming in from the transport, disconnect resolution with a grace
// window, and the periodic guest sweep.
type Presence struct {
	Registry *core.Registry
	Gateway  *Gateway

	// Grace is how long a member may sit with zero connections before
	// it is removed ("the user might be reconnecting").
	Grace time.Duration
	// SweepEvery is the interval of the guest sweep.
	SweepEvery time.Duration
	// StrictJoin makes malformed joins answer with an error event
	// instead of being dropped silently.
	StrictJoin bool
}

func NewPresence(reg *core.Registry, gw *Gateway, grace, sweepEvery time.Duration) *Presence {
	return &Presence{
		Registry:   reg,
		Gateway:    gw,
		Grace:      grace,
		SweepEvery: sweepEvery,
	}
}

// HandleJoin processes a join message from a connection. A join to an
// unknown room creates it. A user already in the room (another tab)
// only grows the connection set and gets a direct roster snapshot; the
// rest of the room is not re-notified.
func (p *Presence) HandleJoin(id domain.ConnID, room domain.RoomName, user domain.UserKey) {
	if room == "" || user == "" {
		log.Warn().Str("module", "app.presence").Str("conn", string(id)).Msg("malformed join dropped")
		if p.StrictJoin {
			_ = p.Gateway.Send.SendToConn(id, "error", []byte(`{"type":"error","message":"join requires room name and userKey"}`))
		}
		return
	}

	p.Gateway.Send.JoinChannel(id, room)
	users, existing := p.Registry.Upsert(room, user, id)
	dep := core.Departure{Room: room, User: user, Users: users}
	if existing {
		p.Gateway.NotifyConn(id, core.ActionUserJoin, dep)
		return
	}
	p.Gateway.NotifyRoom(core.ActionUserJoin, dep)
}

// HandleDisconnect resolves a closed connection against the registry.
// Members left with no connections are not removed yet: a timer fires
// after the grace window and re-checks that the set is still empty, so
// a reconnect in between simply makes the timer a no-op.
func (p *Presence) HandleDisconnect(id domain.ConnID) {
	for _, empty := range p.Registry.RemoveConn(id) {
		time.AfterFunc(p.Grace, func() {
			dep, removed := p.Registry.RemoveIfEmpty(empty.Room, empty.User)
			if !removed {
				return
			}
			p.Gateway.NotifyRoom(core.ActionUserLeft, dep)
		})
	}
}

// Run owns the guest sweep loop until the context is canceled. The
// ticker rearms every cycle regardless of what the sweep found.
func (p *Presence) Run(ctx context.Context) {
	ticker := time.NewTicker(p.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.presence").Msg("sweep loop stopped")
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Presence) sweep() {
	for _, dep := range p.Registry.SweepGuests() {
		p.Gateway.NotifyRoom(core.ActionUserLeft, dep)
	}
}
