package events

import "github.com/crystal-mush/rpevents/pkg/gamedb"

// EventType says what kind of message an Event carries. Transports use it
// to pick an encoding.
type EventType int

const (
	EvText       EventType = iota // plain text
	EvSay                         // in-character speech
	EvPose                        // in-character pose
	EvOOC                         // out-of-character room chatter
	EvAnnounce                    // game-wide announcement
	EvCountdown                   // RP event countdown
	EvEventStart                  // RP event started
	EvEventEnd                    // RP event ended
	EvRoomNotice                  // system notice to one room
	EvHealth                      // recovery check result
)

var typeNames = [...]string{
	EvText:       "text",
	EvSay:        "say",
	EvPose:       "pose",
	EvOOC:        "ooc",
	EvAnnounce:   "announce",
	EvCountdown:  "countdown",
	EvEventStart: "event_start",
	EvEventEnd:   "event_end",
	EvRoomNotice: "room_notice",
	EvHealth:     "health",
}

// String returns the wire name of the type, as sent to WebSocket clients
// and used as a metrics label.
func (t EventType) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "unknown"
	}
	return typeNames[t]
}

// Event is one message on the bus. Text is always filled in; Data carries
// extra fields for JSON clients.
type Event struct {
	Type    EventType
	Player  gamedb.DBRef // recipient, Nothing for a tap or broadcast copy
	Source  gamedb.DBRef // speaker or originating object
	Room    gamedb.DBRef
	EventID int64 // RP event the message belongs to, 0 if none
	Text    string
	Data    map[string]any
}
