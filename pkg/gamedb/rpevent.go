package gamedb

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Celebration tiers, from a small gathering up to a legendary spectacle.
const (
	TierSmall = iota
	TierAverage
	TierRefined
	TierGrand
	TierExtravagant
	TierLegendary
)

var tierNames = []string{"Small", "Average", "Refined", "Grand", "Extravagant", "Legendary"}

var tierPrestige = []int{0, 1000, 5000, 20000, 100000, 400000}

// TierName returns the display name of a celebration tier.
func TierName(tier int) string {
	if tier < 0 || tier >= len(tierNames) {
		return "Unknown"
	}
	return tierNames[tier]
}

// RPEvent is a scheduled role-play session.
type RPEvent struct {
	ID              int64
	Name            string
	Desc            string
	Date            time.Time // zero = unscheduled
	Location        DBRef
	Finished        bool
	PublicEvent     bool
	GMEvent         bool
	CelebrationTier int
	Hosts           []DBRef
	Participants    []DBRef
	GMs             []DBRef
}

// Prestige is the total prestige generated by the event's celebration tier.
func (e *RPEvent) Prestige() int {
	if e.CelebrationTier < 0 || e.CelebrationTier >= len(tierPrestige) {
		return 0
	}
	return tierPrestige[e.CelebrationTier]
}

// TagKey uniquely identifies the event among tagged objects. The id is
// included since names may repeat.
func (e *RPEvent) TagKey() string {
	return fmt.Sprintf("%s_%d", strings.ToLower(e.Name), e.ID)
}

// TagData is the tag payload pointing back at the event.
func (e *RPEvent) TagData() string {
	return fmt.Sprintf("%d", e.ID)
}

// IsParticipant reports whether the persona is on the participant list.
func (e *RPEvent) IsParticipant(ref DBRef) bool {
	return slices.Contains(e.Participants, ref)
}

// QualifiedHosts returns hosts that also took part in the event.
func (e *RPEvent) QualifiedHosts() []DBRef {
	var out []DBRef
	for _, h := range e.Hosts {
		if e.IsParticipant(h) && !slices.Contains(out, h) {
			out = append(out, h)
		}
	}
	return out
}

// MainHost returns the first host, or Nothing.
func (e *RPEvent) MainHost() DBRef {
	if len(e.Hosts) == 0 {
		return Nothing
	}
	return e.Hosts[0]
}
