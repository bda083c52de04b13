// Package order submits and tracks ESPA bulk processing orders.
//
// Orders move through a fixed state machine:
//
//	submitted -> ordered | processing | complete | cancelled
//	ordered   -> processing | complete | cancelled
//	processing -> complete
//
// complete and cancelled are terminal. Reporting the current state again
// is a no-op.
//
// Every Manager call first confirms a valid catalog session through its
// TokenSource, then talks to ESPA with HTTP basic credentials.
package order
