package app

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/presence/internal/domain"
)

// fakeSender records transport calls so tests can assert on what the
// controller and gateway emitted, and can be told to fail for a room.
type fakeSender struct {
	mu        sync.Mutex
	joins     []string
	roomSends []sentFrame
	connSends []sentFrame
	failRooms map[domain.RoomName]error
}

type sentFrame struct {
	Room    domain.RoomName
	Conn    domain.ConnID
	Event   string
	Payload json.RawMessage
}

func newFakeSender() *fakeSender {
	return &fakeSender{failRooms: make(map[domain.RoomName]error)}
}

func (f *fakeSender) JoinChannel(id domain.ConnID, room domain.RoomName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, string(id)+"->"+string(room))
}

func (f *fakeSender) SendToRoom(room domain.RoomName, event string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failRooms[room]; err != nil {
		return err
	}
	f.roomSends = append(f.roomSends, sentFrame{Room: room, Event: event, Payload: payload})
	return nil
}

func (f *fakeSender) SendToConn(id domain.ConnID, event string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connSends = append(f.connSends, sentFrame{Conn: id, Event: event, Payload: payload})
	return nil
}

func (f *fakeSender) roomEvents() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentFrame, len(f.roomSends))
	copy(out, f.roomSends)
	return out
}

func (f *fakeSender) connEvents() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentFrame, len(f.connSends))
	copy(out, f.connSends)
	return out
}
