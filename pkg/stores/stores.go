// Package stores holds the reactive state of the logbook: the shared
// configuration, the current page of the user's entries and the queue of
// entry mutations.
//
// Every store is safe for concurrent use. Read accessors are pure
// functions of the current state snapshot.
package stores

import (
	"context"
)

// UserSource publishes the id of the signed in user. The empty string
// means nobody is signed in.
type UserSource interface {
	CurrentUserID() string
	// WatchUserID emits the current id and then every change until ctx is done.
	WatchUserID(ctx context.Context) <-chan string
}
