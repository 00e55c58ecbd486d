package chat

import (
	"PPRelay/tools/errs"

	"go.uber.org/zap"
)

// Router decodes inbound frames and applies them to the registry and fanout.
type Router struct {
	reg  *Registry
	fan  *Fanout
	emit func(c *Connection, env *Envelope) // 派发后的记录回调，可为 nil
	log  *zap.Logger
}

func NewRouter(reg *Registry, fan *Fanout, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{reg: reg, fan: fan, log: log}
}

// Route handles one raw frame from c. Errors are meant for c alone and never
// close the connection.
func (r *Router) Route(raw []byte, c *Connection) error {
	ev, err := ParseFrame(raw)
	if err != nil {
		return err
	}
	return r.dispatch(ev, c)
}

func (r *Router) dispatch(ev Event, c *Connection) error {
	var env *Envelope
	switch e := ev.(type) {
	case SendEvent:
		// 不要求发送者在房间内
		env = NewEnvelope(EventNewMessage, c.UserID, e.Room, e.Text)
	case JoinEvent:
		if err := r.reg.AddMembership(c.ID, e.Room); err != nil {
			return err
		}
		env = NewEnvelope(EventJoinRoom, c.UserID, e.Room, nil)
	case LeaveEvent:
		if err := r.reg.RemoveMembership(c.ID, e.Room); err != nil {
			return err
		}
		env = NewEnvelope(EventLeaveRoom, c.UserID, e.Room, e.Text)
	default:
		return errs.ErrUnknownEventType.WrapMsg("unhandled event variant")
	}

	n := r.fan.Broadcast(env.RoomID, env)
	r.log.Debug("routed", zap.String("conn", c.ID), zap.String("event", env.Event),
		zap.String("room", env.RoomID), zap.Int("recipients", n))
	if r.emit != nil {
		r.emit(c, env)
	}
	return nil
}
