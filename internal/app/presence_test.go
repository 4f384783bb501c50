package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/presence/internal/core"
)

func newTestPresence(grace, sweep time.Duration) (*Presence, *fakeSender) {
	sender := newFakeSender()
	reg := core.NewRegistry()
	return NewPresence(reg, NewGateway(sender), grace, sweep), sender
}

func decodeEvent(t *testing.T, payload json.RawMessage) core.RoomEvent {
	t.Helper()
	var ev core.RoomEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("couldn't decode room event: %+v", err)
	}
	return ev
}

// TestJoinBroadcast checks that a first join broadcasts to the room
// while a second tab of the same user only gets a direct snapshot.
func TestJoinBroadcast(t *testing.T) {
	p, sender := newTestPresence(time.Hour, time.Hour)

	p.HandleJoin("conn-a1", "lobby", "a")
	if want, got := 1, len(sender.joins); want != got {
		t.Fatalf("invalid channel subscriptions: expected '%d' but got '%d'", want, got)
	}
	if want, got := 1, len(sender.roomEvents()); want != got {
		t.Fatalf("invalid broadcast count: expected '%d' but got '%d'", want, got)
	}

	// Same user, second connection: no room broadcast, one direct send.
	p.HandleJoin("conn-a2", "lobby", "a")
	if want, got := 1, len(sender.roomEvents()); want != got {
		t.Errorf("second tab join broadcast to the room: expected '%d' sends but got '%d'", want, got)
	}
	direct := sender.connEvents()
	if want, got := 1, len(direct); want != got {
		t.Fatalf("second tab got no snapshot: expected '%d' sends but got '%d'", want, got)
	}
	ev := decodeEvent(t, direct[0].Payload)
	if want, got := core.ActionUserJoin, ev.Action.Name; want != got {
		t.Errorf("invalid action: expected '%s' but got '%s'", want, got)
	}
}

// TestSnapshotOrder checks that a join broadcast carries the roster in
// insertion order.
func TestSnapshotOrder(t *testing.T) {
	p, sender := newTestPresence(time.Hour, time.Hour)

	p.HandleJoin("conn-a1", "lobby", "a")
	p.HandleJoin("conn-b1", "lobby", "b")

	events := sender.roomEvents()
	if want, got := 2, len(events); want != got {
		t.Fatalf("invalid broadcast count: expected '%d' but got '%d'", want, got)
	}
	ev := decodeEvent(t, events[1].Payload)
	if want, got := "b", string(ev.Action.UserKey); want != got {
		t.Errorf("invalid userKey: expected '%s' but got '%s'", want, got)
	}
	if len(ev.Room.Users) != 2 || ev.Room.Users[0] != "a" || ev.Room.Users[1] != "b" {
		t.Errorf("invalid roster order: expected '[a b]' but got '%v'", ev.Room.Users)
	}
}

// TestGraceReconnect checks that a rejoin within the grace window never
// produces a user_left and leaves the member with only the new
// connection.
func TestGraceReconnect(t *testing.T) {
	p, sender := newTestPresence(time.Millisecond*20, time.Hour)

	p.HandleJoin("conn-a1", "lobby", "a")
	p.HandleDisconnect("conn-a1")
	time.Sleep(time.Millisecond * 5)
	p.HandleJoin("conn-a2", "lobby", "a")

	// Let the grace timer fire; it must be a no-op.
	time.Sleep(time.Millisecond * 40)

	for _, e := range sender.roomEvents() {
		ev := decodeEvent(t, e.Payload)
		if ev.Action.Name == core.ActionUserLeft {
			t.Fatalf("user_left broadcast despite reconnect: %+v", ev)
		}
	}

	snap := p.Registry.Snapshot()
	if len(snap) != 1 || len(snap[0].Members) != 1 {
		t.Fatalf("invalid registry state after reconnect: %+v", snap)
	}
	conns := snap[0].Members[0].ConnIDs
	if len(conns) != 1 || conns[0] != "conn-a2" {
		t.Errorf("invalid connection set: expected '[conn-a2]' but got '%v'", conns)
	}
}

// TestGraceExpiry checks that with no rejoin the member is removed and
// exactly one user_left goes out, with the room removed when it was the
// last member.
func TestGraceExpiry(t *testing.T) {
	p, sender := newTestPresence(time.Millisecond*10, time.Hour)

	p.HandleJoin("conn-a1", "lobby", "a")
	p.HandleJoin("conn-b1", "lobby", "b")
	p.HandleDisconnect("conn-a1")
	time.Sleep(time.Millisecond * 40)

	var left []core.RoomEvent
	for _, e := range sender.roomEvents() {
		if ev := decodeEvent(t, e.Payload); ev.Action.Name == core.ActionUserLeft {
			left = append(left, ev)
		}
	}
	if want, got := 1, len(left); want != got {
		t.Fatalf("invalid user_left count: expected '%d' but got '%d'", want, got)
	}
	if want, got := "a", string(left[0].Action.UserKey); want != got {
		t.Errorf("invalid departed userKey: expected '%s' but got '%s'", want, got)
	}
	if len(left[0].Room.Users) != 1 || left[0].Room.Users[0] != "b" {
		t.Errorf("invalid remaining roster: expected '[b]' but got '%v'", left[0].Room.Users)
	}

	// Last member leaving takes the room with it.
	p.HandleDisconnect("conn-b1")
	time.Sleep(time.Millisecond * 40)
	if want, got := 0, len(p.Registry.Snapshot()); want != got {
		t.Errorf("empty room persisted: expected '%d' rooms but got '%d'", want, got)
	}
}

// TestGuestSweep checks that an empty-set guest is removed on the next
// sweep cycle without waiting for the grace timer, with one user_left.
func TestGuestSweep(t *testing.T) {
	p, sender := newTestPresence(time.Hour, time.Millisecond*10)

	p.HandleJoin("conn-g1", "lobby", "guest-42")
	p.HandleJoin("conn-b1", "lobby", "b")
	p.HandleDisconnect("conn-g1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	time.Sleep(time.Millisecond * 50)

	var left []core.RoomEvent
	for _, e := range sender.roomEvents() {
		if ev := decodeEvent(t, e.Payload); ev.Action.Name == core.ActionUserLeft {
			left = append(left, ev)
		}
	}
	if want, got := 1, len(left); want != got {
		t.Fatalf("invalid user_left count: expected '%d' but got '%d'", want, got)
	}
	if want, got := "guest-42", string(left[0].Action.UserKey); want != got {
		t.Errorf("invalid swept userKey: expected '%s' but got '%s'", want, got)
	}
	if keys := p.Registry.UserKeys("lobby"); len(keys) != 1 || keys[0] != "b" {
		t.Errorf("invalid lobby roster after sweep: expected '[b]' but got '%v'", keys)
	}
}

// TestMalformedJoin checks the silent-drop default and the strict mode
// that answers with an error event.
func TestMalformedJoin(t *testing.T) {
	p, sender := newTestPresence(time.Hour, time.Hour)

	p.HandleJoin("conn-1", "", "a")
	p.HandleJoin("conn-1", "lobby", "")
	if got := len(sender.roomEvents()) + len(sender.connEvents()) + len(sender.joins); got != 0 {
		t.Errorf("malformed join produced traffic: '%d' calls", got)
	}
	if want, got := 0, len(p.Registry.Snapshot()); want != got {
		t.Errorf("malformed join mutated the registry: '%d' rooms", got)
	}

	p.StrictJoin = true
	p.HandleJoin("conn-1", "lobby", "")
	direct := sender.connEvents()
	if want, got := 1, len(direct); want != got {
		t.Fatalf("strict mode sent no diagnostic: expected '%d' but got '%d'", want, got)
	}
	if want, got := "error", direct[0].Event; want != got {
		t.Errorf("invalid diagnostic event: expected '%s' but got '%s'", want, got)
	}
}
