// Package protocol defines the relay's wire events as a closed set of
// typed variants. Frames are decoded once at the transport boundary:
//
//	{"event":"join","data":{"roomId":"...","username":"..."}}
//
// Client events: join, request_history, message, delete_room.
// Server events: history, message, room_deleted, error, ping.
package protocol

import (
	"errors"
	"time"
)

// EventName is the wire name of an event.
type EventName string

const (
	EventJoin           EventName = "join"
	EventRequestHistory EventName = "request_history"
	EventMessage        EventName = "message"
	EventDeleteRoom     EventName = "delete_room"
	EventHistory        EventName = "history"
	EventRoomDeleted    EventName = "room_deleted"
	EventError          EventName = "error"
	EventPing           EventName = "ping"
)

// IVSize is the required length of a message IV.
const IVSize = 12

var (
	// ErrUnknownEvent indicates a frame whose event name is not part of the
	// protocol for that direction.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrInvalidPayload indicates a frame whose payload does not match the
	// event's shape.
	ErrInvalidPayload = errors.New("invalid payload")
)

// ClientEvent is sent by clients. The set is closed.
type ClientEvent interface {
	Name() EventName
	clientEvent()
}

// ServerEvent is sent by the server. The set is closed.
type ServerEvent interface {
	Name() EventName
	serverEvent()
}

// Join asks the server to add the connection to a room.
type Join struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// RequestHistory asks for the room's stored messages.
type RequestHistory struct {
	RoomID string
}

// SendMessage carries one encrypted message.
type SendMessage struct {
	RoomID string `json:"roomId"`
	IV     Bytes  `json:"iv"`
	Data   Bytes  `json:"data"`
}

// DeleteRoom asks the server to delete a room. Only the creator may.
type DeleteRoom struct {
	RoomID string
}

// MessageEnvelope is a persisted message as relayed to clients.
type MessageEnvelope struct {
	IV        Bytes     `json:"iv"`
	Data      Bytes     `json:"data"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// History is the batch reply to RequestHistory, in creation order.
type History struct {
	Messages []MessageEnvelope `json:"messages"`
}

// Message is a live message from another member.
type Message struct {
	MessageEnvelope
}

// RoomDeleted tells members the room is gone. It has no payload.
type RoomDeleted struct{}

// Error reports a failed request to the connection that made it.
type Error struct {
	Message string `json:"message"`
}

// Ping is the writer's keepalive.
type Ping struct{}

func (Join) Name() EventName           { return EventJoin }
func (RequestHistory) Name() EventName { return EventRequestHistory }
func (SendMessage) Name() EventName    { return EventMessage }
func (DeleteRoom) Name() EventName     { return EventDeleteRoom }

func (Join) clientEvent()           {}
func (RequestHistory) clientEvent() {}
func (SendMessage) clientEvent()    {}
func (DeleteRoom) clientEvent()     {}

func (History) Name() EventName     { return EventHistory }
func (Message) Name() EventName     { return EventMessage }
func (RoomDeleted) Name() EventName { return EventRoomDeleted }
func (Error) Name() EventName       { return EventError }
func (Ping) Name() EventName        { return EventPing }

func (History) serverEvent()     {}
func (Message) serverEvent()     {}
func (RoomDeleted) serverEvent() {}
func (Error) serverEvent()       {}
func (Ping) serverEvent()        {}
