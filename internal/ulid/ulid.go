// Package ulid provides a type-safe wrapper around github.com/oklog/ulid/v2
// with database/json integration and prefixed ID helpers.
//
// ULIDs are lexicographically sortable by creation time, which makes them
// well suited as client-assigned primary keys: the id is minted locally when
// an entity is created and stays stable through sync and reconciliation.
package ulid

import (
	"bytes"
	"crypto/rand"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes for the different entity kinds in the application
const (
	// PrefixChat is used for chat session IDs
	PrefixChat = "chat"

	// PrefixMessage is used for message IDs
	PrefixMessage = "msg"

	// PrefixPersona is used for persona IDs
	PrefixPersona = "per"

	// PrefixVault is used for vault snippet IDs
	PrefixVault = "vlt"

	// PrefixMemory is used for memory fragment IDs
	PrefixMemory = "mem"

	// PrefixWrite is used for pending write journal IDs
	PrefixWrite = "wr"

	// PrefixSubscription is used for realtime subscription handle IDs
	PrefixSubscription = "sub"

	// PrefixSeparator separates the prefix from the ULID
	PrefixSeparator = "-"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex

	// Nil is the zero value of ULID, useful for nil checks
	Nil = ULID{ulid.ULID{}, ""}
)

// ULID wraps ulid.ULID with prefix handling, database integration and
// JSON serialization.
type ULID struct {
	ulid.ULID
	prefix string
}

// Generate creates a new ULID with the current timestamp.
func Generate() ULID {
	return NewWithTime(time.Now())
}

// GenerateWithPrefix creates a new ULID with the current timestamp and a
// prefix naming the kind of entity the id refers to (e.g. "chat").
func GenerateWithPrefix(prefix string) ULID {
	id := NewWithTime(time.Now())
	id.prefix = prefix
	return id
}

// NewWithTime creates a new ULID with a specific timestamp.
func NewWithTime(t time.Time) ULID {
	entropyLock.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	entropyLock.Unlock()
	return ULID{id, ""}
}

// Parse parses a ULID string, handling both plain ULIDs and prefixed ULIDs
// (e.g. "chat-01AN4Z07BY79KA1307SR9X4MV3").
func Parse(id string) (ULID, error) {
	parts := strings.Split(id, PrefixSeparator)

	var rawID, prefix string
	if len(parts) > 1 {
		prefix = parts[0]
		rawID = parts[1]
	} else {
		rawID = id
	}

	parsed, err := ulid.Parse(rawID)
	if err != nil {
		return ULID{}, err
	}

	return ULID{parsed, prefix}, nil
}

// MustParse is like Parse but panics if the string cannot be parsed.
func MustParse(s string) ULID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Validate checks if a string is a valid plain or prefixed ULID.
func Validate(id string) bool {
	parts := strings.Split(id, PrefixSeparator)

	rawID := id
	if len(parts) > 1 {
		rawID = parts[1]
	}

	_, err := ulid.Parse(rawID)
	return err == nil
}

// Compare compares two ULIDs lexicographically, ignoring prefixes.
// Returns -1 if u < other, 1 if u > other, and 0 if they're equal.
func (u ULID) Compare(other ULID) int {
	return bytes.Compare(u.ULID[:], other.ULID[:])
}

// IsZero returns true if the ULID is the zero value.
func (u ULID) IsZero() bool {
	return u.ULID == ulid.ULID{}
}

// Prefix returns the prefix of the ULID.
func (u ULID) Prefix() string {
	return u.prefix
}

// Time returns the timestamp component of the ULID.
func (u ULID) Time() time.Time {
	return ulid.Time(u.ULID.Time())
}

// String returns the string representation of the ULID.
// If the ULID has a prefix, it's included in the format "prefix-ulid".
func (u ULID) String() string {
	if u.prefix != "" {
		return u.prefix + PrefixSeparator + u.ULID.String()
	}
	return u.ULID.String()
}

// RawString returns the string representation without any prefix.
func (u ULID) RawString() string {
	return u.ULID.String()
}

// MarshalJSON implements json.Marshaler. ULIDs marshal as strings.
func (u ULID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *ULID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Value implements driver.Valuer. ULIDs are stored as strings.
func (u ULID) Value() (driver.Value, error) {
	return u.String(), nil
}

// Scan implements sql.Scanner for strings and byte slices.
func (u *ULID) Scan(src interface{}) error {
	switch src := src.(type) {
	case nil:
		return nil
	case string:
		parsed, err := Parse(src)
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(src))
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	}
	return fmt.Errorf("cannot scan %T into ULID", src)
}

// Domain-specific ID generation helpers

// ChatID generates a new ULID with the chat prefix
func ChatID() string {
	return GenerateWithPrefix(PrefixChat).String()
}

// MessageID generates a new ULID with the message prefix
func MessageID() string {
	return GenerateWithPrefix(PrefixMessage).String()
}

// PersonaID generates a new ULID with the persona prefix
func PersonaID() string {
	return GenerateWithPrefix(PrefixPersona).String()
}

// VaultID generates a new ULID with the vault snippet prefix
func VaultID() string {
	return GenerateWithPrefix(PrefixVault).String()
}

// MemoryID generates a new ULID with the memory fragment prefix
func MemoryID() string {
	return GenerateWithPrefix(PrefixMemory).String()
}

// WriteID generates a new ULID with the pending write prefix
func WriteID() string {
	return GenerateWithPrefix(PrefixWrite).String()
}

// SubscriptionID generates a new ULID with the subscription prefix
func SubscriptionID() string {
	return GenerateWithPrefix(PrefixSubscription).String()
}
