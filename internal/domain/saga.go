package domain

import "time"

// SagaStatus is the state of a registration saga log entry.
type SagaStatus string

const (
	SagaPending     SagaStatus = "PENDING"
	SagaCompleted   SagaStatus = "COMPLETED"
	SagaCompensated SagaStatus = "COMPENSATED"
)

// RegistrationSaga records the outcome of one registration. It outlives the user
// row so compensations stay auditable.
type RegistrationSaga struct {
	UserID    string
	Status    SagaStatus
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
