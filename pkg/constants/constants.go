package constants

import "time"

const (
	// ConfigKey is the object key the shared configuration lives under.
	ConfigKey = "config"
	// EntriesCollection is the document collection holding log entries.
	EntriesCollection = "entries"

	DefaultRequestTimeout = 30 * time.Second
	DefaultDialTimeout    = 5 * time.Second
	DefaultCommandTimeout = 10 * time.Second
	DefaultKillTimeout    = 2 * time.Second

	CloseMessageCode = 1000
	RPCPath          = "/rpc"
	HealthPath       = "/healthz"
)

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
)

// User-facing messages. These are rendered as-is, the underlying error is only logged.
const (
	MsgConfigFetchFailed  = "Unable to fetch config data. Try refreshing the page in a few minutes."
	MsgEntriesFetchFailed = "Unable to fetch your log entries. Try refreshing the page in a few minutes."
	MsgCreateFailed       = "Something went wrong when creating a new log entry. Please try again later."
	MsgUpdateFailed       = "Something went wrong when updating a log entry. Please try again later."
	MsgDeleteFailed       = "Something went wrong when deleting a log entry. Please try again later."
	MsgNotLoggedIn        = "Not logged in"
)
