package chat

// Event is the closed set of inbound events. Only the types in this file
// implement it; Router.dispatch switches over all of them.
type Event interface {
	RoomID() string
	isEvent()
}

type SendEvent struct {
	Room string
	Text *string
}

type JoinEvent struct {
	Room string
}

type LeaveEvent struct {
	Room string
	Text *string
}

func (e SendEvent) RoomID() string  { return e.Room }
func (e JoinEvent) RoomID() string  { return e.Room }
func (e LeaveEvent) RoomID() string { return e.Room }

func (SendEvent) isEvent()  {}
func (JoinEvent) isEvent()  {}
func (LeaveEvent) isEvent() {}
