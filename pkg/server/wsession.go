package server

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/crystal-mush/rpevents/pkg/events"
	goccy "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait   = 10 * time.Second
	wsPongWait    = 60 * time.Second
	wsPingEvery   = wsPongWait * 9 / 10
	wsMaxMessage  = 4096
	wsOutboundCap = 64
)

// WSMessage is the JSON message format for WebSocket communication.
type WSMessage struct {
	Type    string         `json:"type"`
	Text    string         `json:"text,omitempty"`
	EventID int64          `json:"event_id,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// wsMessageKinds maps inbound message types to room message kinds.
var wsMessageKinds = map[string]events.EventType{
	"say":  events.EvSay,
	"pose": events.EvPose,
	"ooc":  events.EvOOC,
}

// wsSession pumps JSON messages between one WebSocket and its Descriptor.
// All writes go through out, drained by writePump.
type wsSession struct {
	game *Game
	conn *websocket.Conn
	d    *Descriptor
	out  chan []byte
	done chan struct{}
}

func newWSSession(game *Game, conn *websocket.Conn, addr string) *wsSession {
	s := &wsSession{
		game: game,
		conn: conn,
		d:    NewDescriptor(game.Conns.NextID(), addr, TransportWebSocket),
		out:  make(chan []byte, wsOutboundCap),
		done: make(chan struct{}),
	}
	s.d.SendFunc = func(msg string) {
		s.send(WSMessage{Type: "text", Text: msg})
	}
	s.d.ReceiveFunc = func(ev events.Event) {
		s.send(WSMessage{Type: ev.Type.String(), Text: ev.Text, EventID: ev.EventID, Data: ev.Data})
	}
	return s
}

// send queues a message. A client too slow to keep up loses the message
// rather than stalling the scheduler goroutine that emitted it.
func (s *wsSession) send(msg WSMessage) {
	data, err := goccy.Marshal(msg)
	if err != nil {
		log.Printf("[ws:%d] encode %s: %v", s.d.ID, msg.Type, err)
		return
	}
	select {
	case s.out <- data:
	case <-s.done:
	default:
		DebugLog("[ws:%d] outbound queue full, dropped %s", s.d.ID, msg.Type)
	}
}

func (s *wsSession) writePump() {
	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()
	for {
		select {
		case data := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				DebugLog("[ws:%d] write: %v", s.d.ID, err)
				s.conn.Close()
				return
			}
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.conn.Close()
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump turns client messages into room messages until the socket
// closes, then tears the session down.
func (s *wsSession) readPump() {
	defer func() {
		s.game.Conns.Remove(s.d)
		s.d.Close()
		close(s.done)
		s.conn.Close()
		log.Printf("[ws:%d] WebSocket closed from %s", s.d.ID, s.d.Addr)
	}()

	s.conn.SetReadLimit(wsMaxMessage)
	s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws:%d] read error: %v", s.d.ID, err)
			}
			return
		}
		s.d.Touch()
		s.handle(data)
	}
}

func (s *wsSession) handle(data []byte) {
	var msg WSMessage
	if err := goccy.Unmarshal(data, &msg); err != nil {
		s.send(WSMessage{Type: "error", Text: "Invalid JSON message"})
		return
	}
	kind, ok := wsMessageKinds[msg.Type]
	if !ok {
		s.send(WSMessage{Type: "error", Text: fmt.Sprintf("Unknown message type: %s", msg.Type)})
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		s.send(WSMessage{Type: "error", Text: "Nothing to say."})
		return
	}
	s.d.Spoke()
	if err := s.game.Speak(context.Background(), s.d.Player, kind, msg.Text); err != nil {
		log.Printf("[ws:%d] %s: %v", s.d.ID, msg.Type, err)
		s.send(WSMessage{Type: "error", Text: err.Error()})
	}
}
