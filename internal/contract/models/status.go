package models

import "fmt"

// Status is the contract lifecycle state. Persisted as text, case-sensitive;
// the wire values are a closed set and must not drift.
type Status string

const (
	StatusDraft                     Status = "rascunho"
	StatusAwaitingInternalSignature Status = "aguardando_assinatura_interna"
	StatusAwaitingExternalSignature Status = "aguardando_assinatura_externa"
	StatusCompleted                 Status = "concluido"
	StatusCancelled                 Status = "cancelado"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusAwaitingInternalSignature, StatusAwaitingExternalSignature,
		StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// The happy path is monotonic; cancellation is allowed from any non-terminal
// state.
func (s Status) CanTransitionTo(next Status) bool {
	if next == StatusCancelled {
		return !s.IsTerminal()
	}
	switch s {
	case StatusDraft:
		return next == StatusAwaitingInternalSignature
	case StatusAwaitingInternalSignature:
		return next == StatusAwaitingExternalSignature
	case StatusAwaitingExternalSignature:
		return next == StatusCompleted
	}
	return false
}

// InvalidTransitionError names the current and attempted state of a rejected
// transition. Callers must change the precondition before retrying.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid contract transition from %q to %q", e.From, e.To)
}
