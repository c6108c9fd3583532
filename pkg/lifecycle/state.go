package lifecycle

// Status names the variant of a State.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// State is the connection state of a store holding T. It is always exactly
// one of Disconnected, Connecting, Connected or Failed; the set is closed.
type State[T any] interface {
	Status() Status
	// Data returns the fetched value. ok is true only for Connected.
	Data() (data T, ok bool)
	// ErrorMessage returns the user facing message of Failed, "" otherwise.
	ErrorMessage() string
	sealed()
}

// Disconnected holds neither data nor error.
type Disconnected[T any] struct{}

// Connecting waits for the first value. Provisional carries the parameters
// the pending subscription was opened with; it is not fetched data.
type Connecting[T any] struct {
	Provisional T
}

type Connected[T any] struct {
	Value T
}

// Failed holds the user facing message of a fetch error.
type Failed[T any] struct {
	Message string
}

func (Disconnected[T]) Status() Status { return StatusDisconnected }
func (Connecting[T]) Status() Status   { return StatusConnecting }
func (Connected[T]) Status() Status    { return StatusConnected }
func (Failed[T]) Status() Status       { return StatusError }

func (Disconnected[T]) Data() (T, bool) { var zero T; return zero, false }
func (Connecting[T]) Data() (T, bool)   { var zero T; return zero, false }
func (s Connected[T]) Data() (T, bool)  { return s.Value, true }
func (Failed[T]) Data() (T, bool)       { var zero T; return zero, false }

func (Disconnected[T]) ErrorMessage() string { return "" }
func (Connecting[T]) ErrorMessage() string   { return "" }
func (Connected[T]) ErrorMessage() string    { return "" }
func (s Failed[T]) ErrorMessage() string     { return s.Message }

func (Disconnected[T]) sealed() {}
func (Connecting[T]) sealed()   {}
func (Connected[T]) sealed()    {}
func (Failed[T]) sealed()       {}

// Params returns the parameters a state carries: the provisional value of
// Connecting or the data of Connected.
func Params[T any](s State[T]) (T, bool) {
	switch st := s.(type) {
	case Connecting[T]:
		return st.Provisional, true
	case Connected[T]:
		return st.Value, true
	}
	var zero T
	return zero, false
}
