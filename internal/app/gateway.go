package app

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/presence/internal/core"
	"github.com/dkeye/presence/internal/domain"
)

var ErrNoRoomName = errors.New("payload has no room_name")

// Gateway turns registry state changes and external posts into outbound
// events. It only ever reads roster snapshots handed to it; it never
// mutates the registry.
type Gateway struct {
	Send core.Sender
}

func NewGateway(send core.Sender) *Gateway {
	return &Gateway{Send: send}
}

// The event name on the wire is the room name itself, which is how the
// original clients multiplex rooms over one connection.
func roomEvent(action string, dep core.Departure) json.RawMessage {
	users := dep.Users
	if users == nil {
		users = []domain.UserKey{}
	}
	b, err := json.Marshal(core.RoomEvent{
		Type:   "node",
		Action: core.Action{Name: action, UserKey: dep.User},
		Room:   core.RoomState{Name: dep.Room, Users: users},
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.gateway").Msg("marshal room event")
		return nil
	}
	return b
}

// NotifyRoom broadcasts a membership event to every subscriber of the
// room. Delivery failures stay inside the transport; they never abort a
// registry mutation in progress.
func (g *Gateway) NotifyRoom(action string, dep core.Departure) {
	payload := roomEvent(action, dep)
	if payload == nil {
		return
	}
	if err := g.Send.SendToRoom(dep.Room, string(dep.Room), payload); err != nil {
		log.Error().Err(err).Str("module", "app.gateway").Str("room", string(dep.Room)).Str("action", action).Msg("notify room")
	}
}

// NotifyConn sends the event to one connection only, so a (re)joining
// tab gets the current roster without waiting for the next broadcast.
func (g *Gateway) NotifyConn(id domain.ConnID, action string, dep core.Departure) {
	payload := roomEvent(action, dep)
	if payload == nil {
		return
	}
	if err := g.Send.SendToConn(id, string(dep.Room), payload); err != nil {
		log.Error().Err(err).Str("module", "app.gateway").Str("conn", string(id)).Msg("notify connection")
	}
}

// Relay forwards an external post verbatim to the room named in its
// room_name field. The payload stays an opaque document; nothing beyond
// room_name is inspected and the bytes go out exactly as they came in.
func (g *Gateway) Relay(payload json.RawMessage) error {
	var target struct {
		RoomName domain.RoomName `json:"room_name"`
	}
	if err := json.Unmarshal(payload, &target); err != nil {
		return err
	}
	if target.RoomName == "" {
		return ErrNoRoomName
	}
	return g.Send.SendToRoom(target.RoomName, string(target.RoomName), payload)
}

// RelayAll relays each item independently. One bad item is logged and
// skipped, never blocking the rest.
func (g *Gateway) RelayAll(items []json.RawMessage) {
	for i, item := range items {
		if err := g.Relay(item); err != nil {
			log.Warn().Err(err).Str("module", "app.gateway").Int("item", i).Msg("relay skipped")
		}
	}
}
