package order

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusOrdered    Status = "ordered"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusCancelled  Status = "cancelled"
)

// ParseStatus maps a service status string onto a Status.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "submitted":
		return StatusSubmitted, true
	case "ordered":
		return StatusOrdered, true
	case "processing":
		return StatusProcessing, true
	case "complete", "completed":
		return StatusComplete, true
	case "cancelled", "canceled":
		return StatusCancelled, true
	default:
		return "", false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusCancelled
}

// Cancellable reports whether an order in s may still be cancelled.
func (s Status) Cancellable() bool {
	return s == StatusSubmitted || s == StatusOrdered
}

// ErrInvalidTransition matches any *TransitionError.
var ErrInvalidTransition = errors.New("order: invalid status transition")

// TransitionError describes a rejected status change.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func isAllowedTransition(from, to Status) bool {
	switch from {
	case StatusSubmitted:
		return to == StatusOrdered || to == StatusProcessing || to == StatusComplete || to == StatusCancelled
	case StatusOrdered:
		return to == StatusProcessing || to == StatusComplete || to == StatusCancelled
	case StatusProcessing:
		return to == StatusComplete
	default:
		return false
	}
}

// Order is a submitted bulk order.
type Order struct {
	ID        string
	Status    Status
	Inputs    []string
	Note      string
	CreatedAt time.Time
}

// Transition moves the order to to. Moving to the current state is a
// no-op; anything the state machine forbids returns a *TransitionError
// and leaves the order unchanged.
func (o *Order) Transition(to Status) error {
	if o.Status == to {
		return nil
	}
	if !isAllowedTransition(o.Status, to) {
		return &TransitionError{ID: o.ID, From: o.Status, To: to}
	}
	o.Status = to
	return nil
}

// Item is one product of an order together with its download URL once
// processed.
type Item struct {
	Name   string
	Status string
	URL    string
}

// Ready reports whether the item can be downloaded.
func (i Item) Ready() bool {
	return strings.EqualFold(i.Status, "complete") && i.URL != ""
}
