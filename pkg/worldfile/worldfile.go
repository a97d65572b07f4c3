// Package worldfile reads and writes the YAML world seed that a fresh
// bbolt store is imported from: rooms and the characters standing in them.
package worldfile

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
	"gopkg.in/yaml.v3"
)

type fileRoom struct {
	Ref  gamedb.DBRef `yaml:"ref"`
	Name string       `yaml:"name"`
	Tags []string     `yaml:"tags,omitempty"`
}

type fileCharacter struct {
	Ref       gamedb.DBRef  `yaml:"ref"`
	Name      string        `yaml:"name"`
	Location  gamedb.DBRef  `yaml:"location"`
	Player    *gamedb.DBRef `yaml:"player,omitempty"` // absent = NPC
	Willpower int           `yaml:"willpower,omitempty"`
	Stamina   int           `yaml:"stamina,omitempty"`
	MaxHealth int           `yaml:"max_health,omitempty"`
	Damage    int           `yaml:"damage,omitempty"`
	Dead      bool          `yaml:"dead,omitempty"`
	Scent     string        `yaml:"scent,omitempty"`
}

type file struct {
	Rooms      []fileRoom      `yaml:"rooms"`
	Characters []fileCharacter `yaml:"characters"`
}

// Load reads a world file from disk.
func Load(path string) (*gamedb.Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("worldfile: %w", err)
	}
	defer f.Close()
	db, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("worldfile: %s: %w", path, err)
	}
	return db, nil
}

// Parse decodes a world file. Refs must be unique and every character
// must stand in a room the file defines.
func Parse(r io.Reader) (*gamedb.Database, error) {
	var wf file
	if err := yaml.NewDecoder(r).Decode(&wf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	db := gamedb.NewDatabase()
	for _, fr := range wf.Rooms {
		if fr.Ref < 0 {
			return nil, fmt.Errorf("room %q: invalid ref #%d", fr.Name, fr.Ref)
		}
		if _, dup := db.Rooms[fr.Ref]; dup {
			return nil, fmt.Errorf("room #%d defined twice", fr.Ref)
		}
		db.Rooms[fr.Ref] = &gamedb.Room{Ref: fr.Ref, Name: fr.Name, Tags: fr.Tags}
	}
	for _, fc := range wf.Characters {
		if fc.Ref < 0 {
			return nil, fmt.Errorf("character %q: invalid ref #%d", fc.Name, fc.Ref)
		}
		if _, dup := db.Characters[fc.Ref]; dup {
			return nil, fmt.Errorf("character #%d defined twice", fc.Ref)
		}
		if _, isRoom := db.Rooms[fc.Ref]; isRoom {
			return nil, fmt.Errorf("character #%d shares a ref with a room", fc.Ref)
		}
		if _, ok := db.Rooms[fc.Location]; !ok {
			return nil, fmt.Errorf("character #%d (%s) is in unknown room #%d", fc.Ref, fc.Name, fc.Location)
		}
		c := &gamedb.Character{
			Ref:       fc.Ref,
			Name:      fc.Name,
			Location:  fc.Location,
			Player:    gamedb.Nothing,
			Willpower: fc.Willpower,
			Stamina:   fc.Stamina,
			MaxHealth: fc.MaxHealth,
			Damage:    fc.Damage,
			Dead:      fc.Dead,
			Scent:     fc.Scent,
		}
		if fc.Player != nil {
			c.Player = *fc.Player
		}
		db.Characters[c.Ref] = c
	}
	return db, nil
}

// Write encodes a database as a world file, sorted by ref.
func Write(w io.Writer, db *gamedb.Database) error {
	var wf file
	for _, ref := range sortedRefs(db.Rooms) {
		r := db.Rooms[ref]
		wf.Rooms = append(wf.Rooms, fileRoom{Ref: r.Ref, Name: r.Name, Tags: r.Tags})
	}
	for _, ref := range sortedRefs(db.Characters) {
		c := db.Characters[ref]
		fc := fileCharacter{
			Ref:       c.Ref,
			Name:      c.Name,
			Location:  c.Location,
			Willpower: c.Willpower,
			Stamina:   c.Stamina,
			MaxHealth: c.MaxHealth,
			Damage:    c.Damage,
			Dead:      c.Dead,
			Scent:     c.Scent,
		}
		if c.Player != gamedb.Nothing {
			p := c.Player
			fc.Player = &p
		}
		wf.Characters = append(wf.Characters, fc)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&wf); err != nil {
		return fmt.Errorf("worldfile: encode: %w", err)
	}
	return enc.Close()
}

func sortedRefs[V any](m map[gamedb.DBRef]V) []gamedb.DBRef {
	refs := make([]gamedb.DBRef, 0, len(m))
	for ref := range m {
		refs = append(refs, ref)
	}
	slices.Sort(refs)
	return refs
}
