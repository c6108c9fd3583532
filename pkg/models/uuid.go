package models

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/uuid/v5"
)

// TagBinaryUUID is the IANA registered CBOR tag for a binary UUID.
const TagBinaryUUID uint64 = 37

// UUID identifies live subscriptions and RPC requests.
//
// It implements cbor.Marshaler and cbor.Unmarshaler so it travels as
// tag 37 wrapping the 16 raw bytes.
type UUID struct {
	uuid.UUID
}

// NewUUID returns a fresh version 4 UUID.
func NewUUID() UUID {
	return UUID{UUID: uuid.Must(uuid.NewV4())}
}

// ParseUUID parses the canonical text form.
func ParseUUID(s string) (UUID, error) {
	u, err := uuid.FromString(s)
	if err != nil {
		return UUID{}, err
	}
	return UUID{UUID: u}, nil
}

// MarshalCBOR implements cbor.Marshaler interface for UUID
func (u UUID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{
		Number:  TagBinaryUUID,
		Content: u.Bytes(),
	})
}

// UnmarshalCBOR implements cbor.Unmarshaler interface for UUID
func (u *UUID) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}

	if tag.Number != TagBinaryUUID {
		return fmt.Errorf("unexpected tag number for UUID: got %d, want %d", tag.Number, TagBinaryUUID)
	}

	bytes, ok := tag.Content.([]byte)
	if !ok {
		return fmt.Errorf("UUID tag content must be byte string, got %T", tag.Content)
	}

	if len(bytes) != uuid.Size {
		return fmt.Errorf("UUID must be exactly %d bytes, got %d", uuid.Size, len(bytes))
	}

	parsed, err := uuid.FromBytes(bytes)
	if err != nil {
		return fmt.Errorf("failed to parse UUID bytes: %w", err)
	}

	u.UUID = parsed
	return nil
}
