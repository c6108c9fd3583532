// Package codec holds the wire encoding shared by the websocket client,
// the server and the SQLite store.
package codec

type Marshaler interface {
	Marshal(v any) ([]byte, error)
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
}
