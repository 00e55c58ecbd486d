package errs

const (
	ServerInternalError = 500

	UnauthorizedError       = 4001 // same value as the websocket close code
	MalformedFrameError     = 4100
	UnsupportedKindError    = 4101
	UnknownEventTypeError   = 4102
	TooManyConnectionsError = 4290

	DeliveryFailureError   = 5001
	RegistryInvariantError = 5002
	ConnClosedError        = 5003
)

var (
	ErrServerInternal = NewCodeError(ServerInternalError, "internal server error")

	ErrUnauthorized       = NewCodeError(UnauthorizedError, "Unauthorized")
	ErrMalformedFrame     = NewCodeError(MalformedFrameError, "Invalid JSON")
	ErrUnsupportedKind    = NewCodeError(UnsupportedKindError, "Invalid message type")
	ErrUnknownEventType   = NewCodeError(UnknownEventTypeError, "Unknown event")
	ErrTooManyConnections = NewCodeError(TooManyConnectionsError, "too many connections")

	ErrDeliveryFailure   = NewCodeError(DeliveryFailureError, "delivery failed")
	ErrRegistryInvariant = NewCodeError(RegistryInvariantError, "registry invariant violated")
	ErrConnClosed        = NewCodeError(ConnClosedError, "connection closed")
)
