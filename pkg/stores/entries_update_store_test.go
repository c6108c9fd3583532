package stores

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logbookhq/logbook/pkg/auth"
	"github.com/logbookhq/logbook/pkg/constants"
	"github.com/logbookhq/logbook/pkg/lifecycle"
	"github.com/logbookhq/logbook/pkg/models"
)

func newUpdateStore(t *testing.T, src *flakySource, users *auth.Store, opts ...UpdateOption) *EntriesUpdateStore {
	t.Helper()
	store := NewEntriesUpdateStore(newEntriesService(src), users, testLogger(), opts...)
	t.Cleanup(store.Close)
	return store
}

func wait(t *testing.T, cmd *Command) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := cmd.Wait(ctx)
	require.NoError(t, ctx.Err(), "command did not finish")
	return err
}

func TestCreateWithoutUser(t *testing.T) {
	src := newFlakySource(t)
	store := newUpdateStore(t, src, signedIn(""))

	err := wait(t, store.Create(models.EntryInput{Title: "a"}))
	assert.ErrorIs(t, err, constants.ErrNotLoggedIn)
	assert.Equal(t, CommandState{Error: constants.MsgNotLoggedIn}, store.State())
	assert.Empty(t, src.recorded())
}

func TestCommandsRunInOrder(t *testing.T) {
	src := newFlakySource(t)
	gate := make(chan struct{})
	src.setGate(gate)
	store := newUpdateStore(t, src, signedIn("u1"))

	a := store.Create(models.EntryInput{Title: "A"})
	b := store.Create(models.EntryInput{Title: "B"})

	require.Eventually(t, func() bool { return len(src.recorded()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, CommandState{Processing: true}, store.State())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"create A"}, src.recorded())

	gate <- struct{}{}
	require.NoError(t, wait(t, a))
	gate <- struct{}{}
	require.NoError(t, wait(t, b))

	assert.Equal(t, []string{"create A", "create B"}, src.recorded())
	assert.Equal(t, int32(1), src.maxInflight.Load())
	require.Eventually(t, func() bool { return store.State() == CommandState{} }, time.Second, time.Millisecond)
	assert.NotEmpty(t, a.ID)
	assert.NotEmpty(t, b.ID)
}

func TestMixedCommandsShareOneQueue(t *testing.T) {
	src := newFlakySource(t)
	store := newUpdateStore(t, src, signedIn("u1"))

	created := store.Create(models.EntryInput{Title: "A"})
	require.NoError(t, wait(t, created))

	cmds := []*Command{
		store.Update(models.EntryPatch{ID: created.ID, Title: models.Ptr("B")}),
		store.Delete(created.ID),
		store.Create(models.EntryInput{Title: "C"}),
	}
	for _, cmd := range cmds {
		require.NoError(t, wait(t, cmd))
	}
	assert.Equal(t, []string{
		"create A",
		"update " + created.ID,
		"delete " + created.ID,
		"create C",
	}, src.recorded())
}

func TestUpdateWritesOnlyGivenFields(t *testing.T) {
	src := newFlakySource(t)
	users := signedIn("u1")
	store := newUpdateStore(t, src, users)
	entries := newEntriesStore(t, src, users)

	created := store.Create(models.EntryInput{Title: "A", Text: "body", Category: models.Ptr("work")})
	require.NoError(t, wait(t, created))
	waitPage(t, entries, 1, "A")
	before := entries.Entries()[0]

	require.NoError(t, wait(t, store.Update(models.EntryPatch{ID: created.ID, Title: models.Ptr("B")})))
	waitPage(t, entries, 1, "B")
	after := entries.Entries()[0]
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.UserID, after.UserID)
	assert.True(t, before.Timestamp.Equal(after.Timestamp))
	assert.Equal(t, "body", after.Text)
	assert.Equal(t, before.Category, after.Category)

	require.NoError(t, wait(t, store.Update(models.EntryPatch{ID: created.ID, Category: models.Ptr("")})))
	require.Eventually(t, func() bool {
		e := entries.Entries()
		return len(e) == 1 && e[0].Category == nil
	}, time.Second, time.Millisecond)

	require.NoError(t, wait(t, store.Delete(created.ID)))
	waitState(t, entries.State, func(s EntriesState) bool {
		p, ok := s.Data()
		return ok && len(p.Entities) == 0
	})
	assert.Equal(t, lifecycle.StatusConnected, entries.State().Status())
}

func TestFailureSetsMessageAndNextCommandClearsIt(t *testing.T) {
	src := newFlakySource(t)
	store := newUpdateStore(t, src, signedIn("u1"))

	err := wait(t, store.Update(models.EntryPatch{ID: "missing", Title: models.Ptr("x")}))
	assert.ErrorIs(t, err, constants.ErrNotFound)
	assert.Equal(t, CommandState{Error: constants.MsgUpdateFailed}, store.State())

	require.NoError(t, wait(t, store.Create(models.EntryInput{Title: "ok"})))
	assert.Equal(t, CommandState{}, store.State())
}

func TestDeleteFailureMessage(t *testing.T) {
	src := newFlakySource(t)
	store := newUpdateStore(t, src, signedIn("u1"))
	require.NoError(t, src.Source.Close())

	err := wait(t, store.Delete("any"))
	assert.ErrorIs(t, err, constants.ErrClosed)
	assert.Equal(t, CommandState{Error: constants.MsgDeleteFailed}, store.State())

	err = wait(t, store.Create(models.EntryInput{Title: "x"}))
	assert.Error(t, err)
	assert.Equal(t, CommandState{Error: constants.MsgCreateFailed}, store.State())
}

func TestCommandTimeout(t *testing.T) {
	src := newFlakySource(t)
	src.setGate(make(chan struct{}))
	store := newUpdateStore(t, src, signedIn("u1"), WithCommandTimeout(20*time.Millisecond))

	err := wait(t, store.Create(models.EntryInput{Title: "slow"}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, CommandState{Error: constants.MsgCreateFailed}, store.State())
}

func TestCloseFailsPendingCommands(t *testing.T) {
	src := newFlakySource(t)
	src.setGate(make(chan struct{}))
	store := NewEntriesUpdateStore(newEntriesService(src), signedIn("u1"), testLogger())

	running := store.Create(models.EntryInput{Title: "A"})
	queued := store.Create(models.EntryInput{Title: "B"})
	require.Eventually(t, func() bool { return len(src.recorded()) == 1 }, time.Second, time.Millisecond)

	store.Close()
	assert.ErrorIs(t, wait(t, running), constants.ErrClosed)
	assert.ErrorIs(t, wait(t, queued), constants.ErrClosed)
	assert.ErrorIs(t, wait(t, store.Delete("x")), constants.ErrClosed)
	assert.Equal(t, []string{"create A"}, src.recorded())
	store.Close()
}

func TestCommandErrBeforeDone(t *testing.T) {
	src := newFlakySource(t)
	gate := make(chan struct{})
	src.setGate(gate)
	store := newUpdateStore(t, src, signedIn("u1"))

	cmd := store.Create(models.EntryInput{Title: "A"})
	assert.NoError(t, cmd.Err())
	close(gate)
	require.NoError(t, wait(t, cmd))
	assert.NoError(t, cmd.Err())
}
