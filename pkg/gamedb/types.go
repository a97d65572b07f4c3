package gamedb

import (
	"slices"
	"strings"
)

// DBRef is the fundamental object reference type. Characters, rooms and
// personas are all addressed by DBRef.
type DBRef int

const (
	Nothing DBRef = -1
)

// Tag set on a room while an event is being logged there.
const TagLoggingEvent = "logging event"

// Character is a player or NPC body in the world.
type Character struct {
	Ref       DBRef
	Name      string
	Location  DBRef
	Player    DBRef // owning player, Nothing for NPCs
	Damage    int
	MaxHealth int
	Dead      bool
	Willpower int
	Stamina   int
	Scent     string
}

// Room is a location characters can stand in.
type Room struct {
	Ref          DBRef
	Name         string
	CurrentEvent int64 // 0 = no event running here
	Tags         []string
}

// HasTag reports whether the room carries the given tag (case-insensitive).
func (r *Room) HasTag(tag string) bool {
	return slices.ContainsFunc(r.Tags, func(t string) bool {
		return strings.EqualFold(t, tag)
	})
}

// AddTag adds a tag if it is not already present.
func (r *Room) AddTag(tag string) {
	if !r.HasTag(tag) {
		r.Tags = append(r.Tags, tag)
	}
}

// RemoveTag removes every copy of a tag.
func (r *Room) RemoveTag(tag string) {
	r.Tags = slices.DeleteFunc(r.Tags, func(t string) bool {
		return strings.EqualFold(t, tag)
	})
}

// Database holds the in-memory world state.
type Database struct {
	Characters map[DBRef]*Character
	Rooms      map[DBRef]*Room
}

// NewDatabase creates an empty Database.
func NewDatabase() *Database {
	return &Database{
		Characters: make(map[DBRef]*Character),
		Rooms:      make(map[DBRef]*Room),
	}
}

// Occupants returns the characters currently in a room.
func (db *Database) Occupants(room DBRef) []*Character {
	var out []*Character
	for _, c := range db.Characters {
		if c.Location == room {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b *Character) int { return int(a.Ref - b.Ref) })
	return out
}

// CharacterOf returns the character played by the given player, if any.
func (db *Database) CharacterOf(player DBRef) (*Character, bool) {
	if c, ok := db.Characters[player]; ok {
		return c, true
	}
	for _, c := range db.Characters {
		if c.Player == player && player != Nothing {
			return c, true
		}
	}
	return nil, false
}
