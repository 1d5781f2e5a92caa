package protocol

import (
	"encoding/json"
	"fmt"
)

type frame struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encode(name EventName, payload any) ([]byte, error) {
	f := frame{Event: name}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s: %w", name, err)
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

func payloadOf(ev any) any {
	switch e := ev.(type) {
	case RequestHistory:
		return e.RoomID
	case DeleteRoom:
		return e.RoomID
	case Message:
		return e.MessageEnvelope
	case RoomDeleted, Ping:
		return nil
	default:
		return e
	}
}

// EncodeClient serializes a client event into a frame.
func EncodeClient(ev ClientEvent) ([]byte, error) {
	return encode(ev.Name(), payloadOf(ev))
}

// EncodeServer serializes a server event into a frame.
func EncodeServer(ev ServerEvent) ([]byte, error) {
	return encode(ev.Name(), payloadOf(ev))
}

func splitFrame(raw []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return frame{}, fmt.Errorf("%w: frame: %v", ErrInvalidPayload, err)
	}
	return f, nil
}

func decodeData(f frame, into any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrInvalidPayload, f.Event)
	}
	if err := json.Unmarshal(f.Data, into); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, f.Event, err)
	}
	return nil
}

func decodeRoomID(f frame) (string, error) {
	var id string
	if err := decodeData(f, &id); err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("%w: %s: roomId is required", ErrInvalidPayload, f.Event)
	}
	return id, nil
}

// DecodeClient parses and validates a client frame.
func DecodeClient(raw []byte) (ClientEvent, error) { // A
	f, err := splitFrame(raw)
	if err != nil {
		return nil, err
	}
	switch f.Event {
	case EventJoin:
		var j Join
		if err := decodeData(f, &j); err != nil {
			return nil, err
		}
		if j.RoomID == "" || j.Username == "" {
			return nil, fmt.Errorf("%w: join: roomId and username are required", ErrInvalidPayload)
		}
		return j, nil
	case EventRequestHistory:
		id, err := decodeRoomID(f)
		if err != nil {
			return nil, err
		}
		return RequestHistory{RoomID: id}, nil
	case EventMessage:
		var m SendMessage
		if err := decodeData(f, &m); err != nil {
			return nil, err
		}
		if m.RoomID == "" {
			return nil, fmt.Errorf("%w: message: roomId is required", ErrInvalidPayload)
		}
		if len(m.IV) != IVSize {
			return nil, fmt.Errorf("%w: message: iv must be %d bytes, got %d", ErrInvalidPayload, IVSize, len(m.IV))
		}
		if len(m.Data) == 0 {
			return nil, fmt.Errorf("%w: message: data is empty", ErrInvalidPayload)
		}
		return m, nil
	case EventDeleteRoom:
		id, err := decodeRoomID(f)
		if err != nil {
			return nil, err
		}
		return DeleteRoom{RoomID: id}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

// DecodeServer parses a server frame.
func DecodeServer(raw []byte) (ServerEvent, error) { // A
	f, err := splitFrame(raw)
	if err != nil {
		return nil, err
	}
	switch f.Event {
	case EventHistory:
		var h History
		if err := decodeData(f, &h); err != nil {
			return nil, err
		}
		return h, nil
	case EventMessage:
		var m MessageEnvelope
		if err := decodeData(f, &m); err != nil {
			return nil, err
		}
		return Message{MessageEnvelope: m}, nil
	case EventRoomDeleted:
		return RoomDeleted{}, nil
	case EventError:
		var e Error
		if err := decodeData(f, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventPing:
		return Ping{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}
