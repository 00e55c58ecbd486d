package message

import (
	"time"

	"github.com/google/uuid"
)

// Record 一次已派发的房间事件，交给历史/事件总线等外部协作方
type Record struct {
	ID        string    `json:"id" bson:"_id"`
	GatewayID string    `json:"gatewayId" bson:"gateway_id"`
	ConnID    string    `json:"connId" bson:"conn_id"`
	RoomID    string    `json:"roomId" bson:"room_id"`
	Event     string    `json:"event" bson:"event"`
	From      string    `json:"from" bson:"from"`
	Message   *string   `json:"message,omitempty" bson:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

func NewRecord(gatewayID, connID, roomID, event, from string, text *string) *Record {
	return &Record{
		ID:        uuid.NewString(),
		GatewayID: gatewayID,
		ConnID:    connID,
		RoomID:    roomID,
		Event:     event,
		From:      from,
		Message:   text,
		CreatedAt: time.Now().UTC(),
	}
}

// Text returns the message body or "" when the event carried none.
func (r *Record) Text() string {
	if r.Message == nil {
		return ""
	}
	return *r.Message
}
