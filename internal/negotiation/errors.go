package negotiation

import "errors"

var (
	ErrDealNotFound        = errors.New("deal not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionNotActive    = errors.New("session is not active")
	ErrRoundLimit          = errors.New("negotiation round limit reached")
	ErrInvalidCounterOffer = errors.New("counter offer must be positive")
	ErrUnknownAction       = errors.New("unknown negotiation action")
)
