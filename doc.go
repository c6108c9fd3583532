// The [logbook] package is the reactive state core of the logbook: a
// personal journal of short entries, optionally filed under a category.
//
// # Stores
//
// A [Logbook] bundles three stores that share one document source:
//
//   - [stores.ConfigStore] follows the shared configuration (the categories).
//   - [stores.EntriesStore] follows one page of the signed in user's
//     entries, newest first, with a category filter.
//   - [stores.EntriesUpdateStore] runs create, update and delete commands
//     one at a time, in order.
//
// The read stores follow the connection lifecycle of
// [github.com/logbookhq/logbook/pkg/lifecycle]: Disconnected, Connecting,
// Connected or Error. Only the latest connect or disconnect takes effect;
// a response of a superseded subscription never reaches the state.
//
// # Sources
//
// Stores read and write through a [source.Source]. Use [New] with an
// in-process source such as [github.com/logbookhq/logbook/pkg/source/memory],
// or [Connect] to reach a logbook server over websocket.
//
// Mutations never touch the entries page directly. The page converges
// when the source re-emits it.
package logbook
