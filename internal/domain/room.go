// Package domain contains entity without logic, just meta-data
package domain

import "strings"

type (
	RoomName string
	UserKey  string
	ConnID   string
)

// GuestPrefix marks disposable identities that the periodic sweep may
// remove as soon as their last connection is gone.
const GuestPrefix = "guest"

func (k UserKey) IsGuest() bool {
	return strings.HasPrefix(string(k), GuestPrefix)
}

// Member is one logical user inside a room. A user joining from several
// tabs is still one Member with several connection ids. The ConnIDs
// slice may be empty for a short while after the last disconnect; the
// registry removes the member once that window expires.
type Member struct {
	Key     UserKey
	ConnIDs []ConnID
}

// Room owns its members in join order.
type Room struct {
	Name    RoomName
	Members []*Member
}
