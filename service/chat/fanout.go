package chat

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Fanout pushes an envelope to every current member of a room. Whole
// broadcasts are serialized so all members of a room observe one order.
type Fanout struct {
	mu       sync.Mutex
	reg      *Registry
	log      *zap.Logger
	failures atomic.Int64
}

func NewFanout(reg *Registry, log *zap.Logger) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{reg: reg, log: log}
}

// Broadcast returns the number of members the envelope was queued for.
// Per-recipient failures are logged and skipped.
func (f *Fanout) Broadcast(roomID string, env *Envelope) int {
	payload, err := json.Marshal(env)
	if err != nil {
		f.log.Error("marshal envelope", zap.String("room", roomID), zap.Error(err))
		return 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	delivered := 0
	for _, c := range f.reg.MembersOf(roomID) {
		if err := c.Push(payload); err != nil {
			// 慢客户端/已断开：只记录，交给存活巡检回收
			f.failures.Add(1)
			f.log.Warn("delivery failed", zap.String("room", roomID), zap.String("conn", c.ID),
				zap.String("user", c.UserID), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// Failures counts dropped deliveries since start.
func (f *Fanout) Failures() int64 { return f.failures.Load() }
