package server

import (
	"context"
	"fmt"
	"log"

	"github.com/crystal-mush/rpevents/pkg/events"
	"github.com/crystal-mush/rpevents/pkg/gamedb"
	"github.com/crystal-mush/rpevents/pkg/scripts"
)

// FormatRoomMessage renders what the room sees for a say, pose or OOC line.
func FormatRoomMessage(kind events.EventType, name, text string) string {
	switch kind {
	case events.EvPose:
		return name + " " + text
	case events.EvOOC:
		return fmt.Sprintf("<OOC> %s says, \"%s\"", name, text)
	default:
		return fmt.Sprintf("%s says, \"%s\"", name, text)
	}
}

// RoomMessage has a character say, pose or speak OOC in its room. When the
// room is logging an event, in-character lines go to the event log and OOC
// lines to the GM log. Must run on the scheduler goroutine.
func (g *Game) RoomMessage(ctx context.Context, speaker gamedb.DBRef, kind events.EventType, text string) error {
	c, ok := g.DB.Characters[speaker]
	if !ok {
		return fmt.Errorf("server: no character #%d", speaker)
	}
	msg := FormatRoomMessage(kind, c.Name, text)
	room, ok := g.DB.Rooms[c.Location]
	if !ok {
		return fmt.Errorf("server: #%d is nowhere", speaker)
	}

	g.EventBus.EmitToRoom(room.Ref, events.Event{
		Type:    kind,
		Source:  speaker,
		EventID: room.CurrentEvent,
		Text:    msg,
	})

	if room.CurrentEvent == 0 || !room.HasTag(gamedb.TagLoggingEvent) {
		return nil
	}
	if kind == events.EvOOC {
		return g.Events.AddGMNote(ctx, room.CurrentEvent, msg)
	}
	return g.Events.AddMsg(ctx, room.CurrentEvent, msg, PersonaOf(c))
}

// Speak runs RoomMessage on the scheduler goroutine.
func (g *Game) Speak(ctx context.Context, speaker gamedb.DBRef, kind events.EventType, text string) error {
	var err error
	if cerr := g.Sched.Call(ctx, func() {
		err = g.RoomMessage(ctx, speaker, kind, text)
	}); cerr != nil {
		return cerr
	}
	return err
}

// --- Health ---

// Lookup implements scripts.Entities.
func (g *Game) Lookup(ref gamedb.DBRef) (*gamedb.Character, bool) {
	c, ok := g.DB.Characters[ref]
	return c, ok
}

// diceCheck rolls n d10s and returns their total less the difficulty.
func (g *Game) diceCheck(n, difficulty int) int {
	total := 0
	for range n {
		total += g.Roll()
	}
	return total - difficulty
}

// RecoveryTest heals a character by a willpower+stamina roll against
// diffMod. A negative result makes the wound worse. Implements
// scripts.Entities.
func (g *Game) RecoveryTest(ref gamedb.DBRef, diffMod int) int {
	c, ok := g.DB.Characters[ref]
	if !ok {
		return 0
	}
	roll := g.diceCheck(c.Willpower+c.Stamina, g.Conf.RecoveryBaseDiff+diffMod)
	msg := "You feel worse."
	if roll > 0 {
		msg = "You feel better."
	}
	c.Damage = max(c.Damage-roll, 0)
	g.persistCharacter(c)
	g.EventBus.EmitToPlayer(ref, events.Event{
		Type:   events.EvHealth,
		Source: ref,
		Text:   msg,
		Data:   map[string]any{"roll": roll, "damage": c.Damage},
	})
	DebugLog("recovery #%d: diff %d roll %d damage %d", ref, diffMod, roll, c.Damage)
	return roll
}

// Damage wounds a character and makes sure it is recovering.
func (g *Game) Damage(ref gamedb.DBRef, amount int) error {
	c, ok := g.DB.Characters[ref]
	if !ok {
		return fmt.Errorf("server: no character #%d", ref)
	}
	if amount <= 0 {
		return fmt.Errorf("server: damage must be positive, got %d", amount)
	}
	c.Damage += amount
	g.persistCharacter(c)
	if c.Dead {
		return nil
	}
	_, err := g.Scripts.Ensure(scripts.NewRecovery(ref, g, seconds(g.Conf.RecoveryInterval)))
	return err
}

// Heal removes damage directly. A recovery script in progress remembers the
// largest heal, which makes its next rolls easier.
func (g *Game) Heal(ref gamedb.DBRef, amount int) error {
	c, ok := g.DB.Characters[ref]
	if !ok {
		return fmt.Errorf("server: no character #%d", ref)
	}
	c.Damage = max(c.Damage-amount, 0)
	g.persistCharacter(c)
	if s, ok := g.Scripts.Get(ref, scripts.RecoveryKey); ok {
		s.(*scripts.Recovery).NoteHeal(amount)
	}
	return nil
}

// SetScent gives a character a scent that wears off over time.
func (g *Game) SetScent(ref gamedb.DBRef, scent string) error {
	if _, ok := g.DB.Characters[ref]; !ok {
		return fmt.Errorf("server: no character #%d", ref)
	}
	var a *scripts.Appearance
	if s, ok := g.Scripts.Get(ref, scripts.AppearanceKey); ok {
		a = s.(*scripts.Appearance)
	} else {
		a = scripts.NewAppearance(ref, seconds(g.Conf.AppearanceInterval), seconds(g.Conf.ScentDuration))
		g.setupScript(a)
	}
	a.SetScent(scent)
	if scent == "" {
		g.Scripts.Stop(ref, scripts.AppearanceKey)
		return nil
	}
	_, err := g.Scripts.Ensure(a)
	return err
}

func (g *Game) scentChanged(obj gamedb.DBRef, scent string) {
	c, ok := g.DB.Characters[obj]
	if !ok {
		return
	}
	c.Scent = scent
	g.persistCharacter(c)
	if scent == "" {
		log.Printf("Scent on #%d has worn off", obj)
	}
}
