// Package auth holds the identity of the signed in user.
//
// Token acquisition happens elsewhere; this package only publishes the
// resulting user id so that stores can react to sign in and sign out.
package auth

import (
	"context"

	"github.com/logbookhq/logbook/pkg/logger"
	"github.com/logbookhq/logbook/pkg/observable"
)

// Store publishes the current user id. The empty string means nobody is
// signed in.
type Store struct {
	userID *observable.Value[string]
	log    logger.Logger
}

func NewStore(log logger.Logger) *Store {
	return &Store{
		userID: observable.NewDistinct("", func(a, b string) bool { return a == b }),
		log:    logger.OrDiscard(log),
	}
}

func (s *Store) SignIn(userID string) {
	if s.userID.Set(userID) {
		s.log.Info("auth: signed in", "userId", userID)
	}
}

func (s *Store) SignOut() {
	if s.userID.Set("") {
		s.log.Info("auth: signed out")
	}
}

func (s *Store) CurrentUserID() string {
	return s.userID.Get()
}

// WatchUserID emits the current user id and then every change of it.
// Repeated sign ins of the same user are not emitted.
func (s *Store) WatchUserID(ctx context.Context) <-chan string {
	return s.userID.Watch(ctx)
}
