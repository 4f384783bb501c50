package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/presence/internal/domain"
)

// Registry is the authoritative in-memory table of rooms and their
// members. Rooms and members keep join order, which drives the order of
// the "users" array in broadcast payloads. Every exported method takes
// the single mutex for the whole logical operation, so no caller can
// ever observe a duplicate member or an empty room.
type Registry struct {
	mu    sync.Mutex
	rooms []*domain.Room
}

func NewRegistry() *Registry {
	return &Registry{}
}

// callers hold r.mu
func (r *Registry) findRoom(name domain.RoomName) (int, *domain.Room) {
	for i, room := range r.rooms {
		if room.Name == name {
			return i, room
		}
	}
	return -1, nil
}

// callers hold r.mu
func findMember(room *domain.Room, key domain.UserKey) (int, *domain.Member) {
	for i, m := range room.Members {
		if m.Key == key {
			return i, m
		}
	}
	return -1, nil
}

// callers hold r.mu
func userKeys(room *domain.Room) []domain.UserKey {
	out := make([]domain.UserKey, 0, len(room.Members))
	for _, m := range room.Members {
		out = append(out, m.Key)
	}
	return out
}

// Upsert records a join. It creates the room on first use, creates the
// member on its first join, and otherwise just adds the connection id to
// the member's set (idempotent if already present). It reports whether
// the member already existed and the roster after the mutation.
func (r *Registry) Upsert(name domain.RoomName, key domain.UserKey, id domain.ConnID) (users []domain.UserKey, existing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, room := r.findRoom(name)
	if room == nil {
		room = &domain.Room{Name: name}
		r.rooms = append(r.rooms, room)
		log.Info().Str("module", "core.registry").Str("room", string(name)).Msg("room created")
	}

	_, member := findMember(room, key)
	if member == nil {
		room.Members = append(room.Members, &domain.Member{
			Key:     key,
			ConnIDs: []domain.ConnID{id},
		})
		log.Info().Str("module", "core.registry").Str("room", string(name)).Str("user", string(key)).Msg("member added")
		return userKeys(room), false
	}

	for _, cid := range member.ConnIDs {
		if cid == id {
			return userKeys(room), true
		}
	}
	member.ConnIDs = append(member.ConnIDs, id)
	log.Debug().Str("module", "core.registry").Str("room", string(name)).Str("user", string(key)).Int("conns", len(member.ConnIDs)).Msg("connection added")
	return userKeys(room), true
}

// EmptyMember identifies a (room, user) pair whose last connection just
// dropped. The member itself stays in the registry until the grace
// timer or the guest sweep confirms it.
type EmptyMember struct {
	Room domain.RoomName
	User domain.UserKey
}

// RemoveConn resolves a transport disconnect against global state: the
// connection id is removed from every member holding it, in any room.
// The returned pairs are the members left with no connections at all.
func (r *Registry) RemoveConn(id domain.ConnID) []EmptyMember {
	r.mu.Lock()
	defer r.mu.Unlock()

	var emptied []EmptyMember
	for _, room := range r.rooms {
		for _, member := range room.Members {
			kept := member.ConnIDs[:0]
			for _, cid := range member.ConnIDs {
				if cid != id {
					kept = append(kept, cid)
				}
			}
			if len(kept) == len(member.ConnIDs) {
				continue
			}
			member.ConnIDs = kept
			if len(member.ConnIDs) == 0 {
				emptied = append(emptied, EmptyMember{Room: room.Name, User: member.Key})
			}
		}
	}
	if len(emptied) > 0 {
		log.Info().Str("module", "core.registry").Str("conn", string(id)).Int("draining", len(emptied)).Msg("last connection gone")
	}
	return emptied
}

// Departure describes a completed member removal together with the
// roster that remains, snapshotted under the same lock.
type Departure struct {
	Room  domain.RoomName
	User  domain.UserKey
	Users []domain.UserKey
}

// RemoveIfEmpty removes the member only if its connection set is still
// empty, which is how a reconnect during the grace window cancels the
// pending removal without any timer plumbing. The room goes with its
// last member. Stale references (room or member already gone) are a
// silent no-op.
func (r *Registry) RemoveIfEmpty(name domain.RoomName, key domain.UserKey) (Departure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ri, room := r.findRoom(name)
	if room == nil {
		return Departure{}, false
	}
	mi, member := findMember(room, key)
	if member == nil || len(member.ConnIDs) != 0 {
		return Departure{}, false
	}

	room.Members = append(room.Members[:mi], room.Members[mi+1:]...)
	if len(room.Members) == 0 {
		r.rooms = append(r.rooms[:ri], r.rooms[ri+1:]...)
		log.Info().Str("module", "core.registry").Str("room", string(name)).Msg("room removed")
	}
	log.Info().Str("module", "core.registry").Str("room", string(name)).Str("user", string(key)).Msg("member removed")
	return Departure{Room: name, User: key, Users: userKeys(room)}, true
}

// SweepGuests removes every guest member whose connection set is empty
// right now, without waiting for a grace timer. Rooms emptied by the
// sweep are removed as well. Each departure carries the roster as it
// was right after that removal.
func (r *Registry) SweepGuests() []Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	var gone []Departure
	keptRooms := r.rooms[:0]
	for _, room := range r.rooms {
		kept := room.Members[:0]
		for _, member := range room.Members {
			if member.Key.IsGuest() && len(member.ConnIDs) == 0 {
				gone = append(gone, Departure{Room: room.Name, User: member.Key})
				continue
			}
			kept = append(kept, member)
		}
		room.Members = kept
		if len(room.Members) > 0 {
			keptRooms = append(keptRooms, room)
		}
		// Roster snapshots are taken after the whole room is swept, so a
		// sweep removing two guests from one room reports the same final
		// roster for both.
		for i := range gone {
			if gone[i].Room == room.Name && gone[i].Users == nil {
				gone[i].Users = userKeys(room)
			}
		}
	}
	r.rooms = keptRooms
	if len(gone) > 0 {
		log.Info().Str("module", "core.registry").Int("removed", len(gone)).Msg("guest sweep")
	}
	return gone
}

// UserKeys returns the roster of a room in join order, or nil if the
// room does not exist.
func (r *Registry) UserKeys(name domain.RoomName) []domain.UserKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, room := r.findRoom(name)
	if room == nil {
		return nil
	}
	return userKeys(room)
}

// Snapshot dumps the whole table for the diagnostic API.
func (r *Registry) Snapshot() []RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RoomSnapshot, 0, len(r.rooms))
	for _, room := range r.rooms {
		rs := RoomSnapshot{Name: room.Name, Members: make([]MemberSnapshot, 0, len(room.Members))}
		for _, m := range room.Members {
			ids := make([]domain.ConnID, len(m.ConnIDs))
			copy(ids, m.ConnIDs)
			rs.Members = append(rs.Members, MemberSnapshot{UserKey: m.Key, ConnIDs: ids})
		}
		out = append(out, rs)
	}
	return out
}
