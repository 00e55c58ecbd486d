package chat

import (
	"context"

	"PPRelay/module/message"
	"PPRelay/tools/security"
)

// State 连接生命周期
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TokenVerifier turns a bearer credential into an identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (security.Identity, error)
}

// PresenceStore 在线状态（可选）
type PresenceStore interface {
	Online(ctx context.Context, userID, connID string) error
	Refresh(ctx context.Context, userID, connID string) error
	Offline(ctx context.Context, userID, connID string) error
}

// HistoryStore receives every new_message record. Optional.
type HistoryStore interface {
	Append(ctx context.Context, rec *message.Record) error
}

// EventPublisher receives every dispatched record. Optional.
type EventPublisher interface {
	Publish(ctx context.Context, rec *message.Record) error
}

// Hooks 外部协作方，全部可为 nil
type Hooks struct {
	Presence  PresenceStore
	History   HistoryStore
	Publisher EventPublisher
}
