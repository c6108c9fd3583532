package constants

import "errors"

var (
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrClosed             = errors.New("closed")
	ErrNotFound           = errors.New("document not found")
	ErrTimeout            = errors.New("timeout")
	ErrIDInUse            = errors.New("id already in use")
	ErrNoBaseURL          = errors.New("base url not set")
	ErrNoMarshaler        = errors.New("marshaler is not set")
	ErrNoUnmarshaler      = errors.New("unmarshaler is not set")
	ErrSubscriptionClosed = errors.New("subscription closed by source")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrConnectionClosed   = errors.New("connection closed")
)
