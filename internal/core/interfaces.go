package core

import (
	"encoding/json"

	"github.com/dkeye/presence/internal/domain"
)

// Sender is the outbound side of the transport. The ws adapter owns the
// actual connections; nothing in core or app ever touches them directly.
type Sender interface {
	// JoinChannel subscribes a connection to a room name so that later
	// SendToRoom calls for that name reach it.
	JoinChannel(id domain.ConnID, room domain.RoomName)
	SendToRoom(room domain.RoomName, event string, payload json.RawMessage) error
	SendToConn(id domain.ConnID, event string, payload json.RawMessage) error
}

const (
	ActionUserJoin = "user_join"
	ActionUserLeft = "user_left"
)

// RoomEvent is the wire shape of a membership broadcast. Field layout is
// part of the client contract, do not reorder.
type RoomEvent struct {
	Type   string    `json:"type"`
	Action Action    `json:"action"`
	Room   RoomState `json:"room"`
}

type Action struct {
	Name    string         `json:"name"`
	UserKey domain.UserKey `json:"userKey"`
}

type RoomState struct {
	Name  domain.RoomName  `json:"name"`
	Users []domain.UserKey `json:"users"`
}

// MemberSnapshot and RoomSnapshot are read-only views for the
// diagnostic API (no live pointers leave the registry).
type MemberSnapshot struct {
	UserKey domain.UserKey  `json:"userKey"`
	ConnIDs []domain.ConnID `json:"socketIds"`
}

type RoomSnapshot struct {
	Name    domain.RoomName  `json:"name"`
	Members []MemberSnapshot `json:"clients"`
}
