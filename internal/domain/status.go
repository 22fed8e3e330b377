package domain

// AdmissionStatus is the shared state vocabulary for both resource kinds.
//
//	requested       -> confirmed | waitlisted | rejected
//	confirmed       -> revoked | cancelled | pending_payment
//	pending_payment -> confirmed | expired | cancelled
//	waitlisted      -> confirmed | cancelled
//
// expired, cancelled, rejected and revoked are terminal for that request; a
// later admission attempt creates a fresh row.
type AdmissionStatus string

const (
	StatusRequested      AdmissionStatus = "requested"
	StatusConfirmed      AdmissionStatus = "confirmed"
	StatusWaitlisted     AdmissionStatus = "waitlisted"
	StatusPendingPayment AdmissionStatus = "pending_payment"
	StatusRejected       AdmissionStatus = "rejected"
	StatusCancelled      AdmissionStatus = "cancelled"
	StatusExpired        AdmissionStatus = "expired"
	StatusRevoked        AdmissionStatus = "revoked"
)

// Terminal reports whether the status ends the admission request. Terminal
// rows no longer block a fresh admission for the same (user, resource).
func (s AdmissionStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// HoldsSlot reports whether the status counts against the capacity pool.
// pending_payment holds a slot so the payment window cannot oversell.
func (s AdmissionStatus) HoldsSlot() bool {
	return s == StatusConfirmed || s == StatusPendingPayment
}

// CanTransition validates an edge of the admission state machine.
func (s AdmissionStatus) CanTransition(to AdmissionStatus) bool {
	switch s {
	case StatusRequested:
		return to == StatusConfirmed || to == StatusWaitlisted || to == StatusRejected || to == StatusPendingPayment
	case StatusConfirmed:
		return to == StatusRevoked || to == StatusCancelled || to == StatusPendingPayment
	case StatusPendingPayment:
		return to == StatusConfirmed || to == StatusExpired || to == StatusCancelled
	case StatusWaitlisted:
		return to == StatusConfirmed || to == StatusCancelled
	}
	return false
}
