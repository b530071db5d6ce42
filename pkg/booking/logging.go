package booking

import "context"

// ManagerOption configures a Manager instance.
type ManagerOption func(*Manager)

// OperationLogger records domain-level events emitted by Manager operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing booking or ledger operation.
type OperationLog struct {
	Operation string
	AccountID AccountID
	RoomID    RoomID
	BookingID BookingID
	Day       Day
	Slot      Slot
	Axis      Axis
	Points    Points
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ManagerOption {
	return func(manager *Manager) {
		manager.logger = logger
	}
}
