// Package voiceerr centralizes the sentinel error taxonomy shared by the
// session loop, the manager, and the control surface.
package voiceerr

import "errors"

var (
	// ErrSessionNotFound is returned when a command targets an unknown session id.
	ErrSessionNotFound = errors.New("sessionNotFound")
	// ErrWrongMode is returned when a command requires a mode the session is not in.
	ErrWrongMode = errors.New("wrongMode")
	// ErrAINotReady is returned when injectContext is attempted before the AI binding is READY.
	ErrAINotReady = errors.New("aiNotReady")
	// ErrContextInjectionFailed wraps a reason when sendText to the AI binding fails.
	ErrContextInjectionFailed = errors.New("contextInjectionFailed")
	// ErrCustomerCongested is the close reason used when a customer's outbox overflows.
	ErrCustomerCongested = errors.New("customerCongested")
	// ErrAIUnavailable is the sessionEnded reason when the AI binding fails irrecoverably in AI mode.
	ErrAIUnavailable = errors.New("aiUnavailable")
	// ErrPeerSlow is returned by Adapter.Send when the outbox is full.
	ErrPeerSlow = errors.New("peerSlow")
	// ErrPeerGone is returned by Adapter.Send after Close (Adapter.Recv's channel is closed instead).
	ErrPeerGone = errors.New("peerGone")
	// ErrCustomerAlreadyAttached is returned when a second customer attaches to the same session.
	ErrCustomerAlreadyAttached = errors.New("customerAlreadyAttached")
	// ErrProtocolViolation marks an inbound message that failed to decode into a known tag.
	ErrProtocolViolation = errors.New("protocolViolation")
)
