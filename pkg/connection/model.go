package connection

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/logbookhq/logbook/pkg/models"
)

// Error codes carried by RPCError.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeSourceError    = -32000
	CodeNotFound       = -32004
)

// RPCError is an error reported by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func (r RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", r.Code, r.Message)
}

func (r *RPCError) Is(target error) bool {
	if target == nil {
		return r == nil
	}

	_, ok := target.(*RPCError)
	return ok
}

// RPCRequest is sent by the client.
type RPCRequest struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
}

// RawRPCRequest is an RPCRequest whose params are decoded on demand.
type RawRPCRequest struct {
	ID     any               `json:"id"`
	Method string            `json:"method,omitempty"`
	Params []cbor.RawMessage `json:"params,omitempty"`
}

// RPCResponse answers a request. A response without ID is a notification.
type RPCResponse[T any] struct {
	ID     any       `json:"id"`
	Error  *RPCError `json:"error,omitempty"`
	Result *T        `json:"result,omitempty"`
}

type RPCFunction string

var (
	Ping   RPCFunction = "ping"
	Live   RPCFunction = "live"
	Kill   RPCFunction = "kill"
	Create RPCFunction = "create"
	Update RPCFunction = "update"
	Delete RPCFunction = "delete"
)

// LiveKind selects what a live subscription watches.
type LiveKind string

const (
	LiveObject LiveKind = "object"
	LivePage   LiveKind = "page"
)

type Action string

const (
	// SnapshotAction carries the full current value of a live subscription.
	SnapshotAction Action = "snapshot"
	// ErrorAction carries a message describing why the subscription failed.
	ErrorAction Action = "error"
)

// Notification is pushed by the server for a live subscription.
type Notification struct {
	ID     *models.UUID    `json:"id,omitempty"`
	Action Action          `json:"action"`
	Result cbor.RawMessage `json:"result"`
}

// OutgoingNotification is the server side form of Notification.
type OutgoingNotification struct {
	ID     models.UUID `json:"id"`
	Action Action      `json:"action"`
	Result any         `json:"result"`
}
