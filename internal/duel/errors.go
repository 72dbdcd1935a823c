package duel

import "errors"

// Provisioning and duel store error taxonomy. The gateway maps these onto
// HTTP status codes; callers classify with errors.Is.
var (
	// ErrUnauthorized means the requester is not one of the duel's two
	// participants.
	ErrUnauthorized = errors.New("requester is not a participant of this duel")

	// ErrNotFound means the duel record does not exist.
	ErrNotFound = errors.New("duel not found")

	// ErrInsufficientQuestionPool means every sourcing tier came back empty.
	// Terminal: retrying cannot help, the caller should pick another subject.
	ErrInsufficientQuestionPool = errors.New("not enough questions available for this filter")

	// ErrPersistence wraps duel store write failures. Retryable by the
	// caller, with backoff.
	ErrPersistence = errors.New("duel store write failed")

	// ErrRateLimited means the requester exceeded the provisioning rate
	// limit.
	ErrRateLimited = errors.New("too many duel start requests")

	// ErrDuelNotActive means an answer arrived for a duel that is not in
	// play.
	ErrDuelNotActive = errors.New("duel is not active")

	// ErrInvalidQuestionIndex means an answer referenced a question outside
	// the frozen set.
	ErrInvalidQuestionIndex = errors.New("question index out of range")
)
