package chat

import (
	"bytes"
	"encoding/json"

	"PPRelay/tools/errs"
)

const (
	FrameTypeEvent = "event"
	FrameTypeError = "error"

	// inbound
	EventSendMessage = "send_message"
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"

	// outbound; join_room/leave_room keep their inbound names
	EventNewMessage = "new_message"
)

// same code as ErrMalformedFrame, with the text the client sees
var errMissingRoom = errs.NewCodeError(errs.MalformedFrameError, "roomId is required")

// InboundFrame {type:"event", event, roomId, message?}
type InboundFrame struct {
	Type    string  `json:"type"`
	Event   string  `json:"event"`
	RoomID  string  `json:"roomId"`
	Message *string `json:"message,omitempty"`
}

// Envelope is serialized once per dispatched event and sent verbatim to
// every recipient.
type Envelope struct {
	Type    string  `json:"type"`
	Event   string  `json:"event"`
	From    string  `json:"from"`
	Message *string `json:"message,omitempty"`
	RoomID  string  `json:"roomId"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewEnvelope(event, from, roomID string, text *string) *Envelope {
	return &Envelope{Type: FrameTypeEvent, Event: event, From: from, Message: text, RoomID: roomID}
}

// ParseFrame decodes one inbound text frame into an Event.
func ParseFrame(raw []byte) (Event, error) {
	// null 也能解到零值结构体，只接受 JSON 对象
	if t := bytes.TrimSpace(raw); len(t) == 0 || t[0] != '{' {
		return nil, errs.ErrMalformedFrame.WrapMsg("frame is not an object", "len", len(raw))
	}
	var f InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.ErrMalformedFrame.WrapMsg("unmarshal frame", "err", err)
	}
	if f.Type != FrameTypeEvent {
		return nil, errs.ErrUnsupportedKind.WrapMsg("", "type", f.Type)
	}

	var ev Event
	switch f.Event {
	case EventSendMessage:
		ev = SendEvent{Room: f.RoomID, Text: f.Message}
	case EventJoinRoom:
		ev = JoinEvent{Room: f.RoomID}
	case EventLeaveRoom:
		ev = LeaveEvent{Room: f.RoomID, Text: f.Message}
	default:
		return nil, errs.ErrUnknownEventType.WrapMsg("", "event", f.Event)
	}
	if f.RoomID == "" {
		return nil, errMissingRoom.WrapMsg("", "event", f.Event)
	}
	return ev, nil
}

// errorFrameFor builds the frame sent back to the offending connection.
func errorFrameFor(err error) []byte {
	msg := errs.ErrServerInternal.Msg
	if ce, ok := errs.AsCode(err); ok {
		msg = ce.Msg
	}
	b, _ := json.Marshal(ErrorFrame{Type: FrameTypeError, Message: msg})
	return b
}
