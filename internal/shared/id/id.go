// Package id generates identifiers for ptyd.
//
// Sessions and requests get prefixed ULIDs, which sort by creation time and
// read well in logs (sess_01J..., req_01J...). Websocket connections get
// random UUIDs since nothing orders them.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// SessionID identifies a terminal session
type SessionID string

// RequestID identifies an API request
type RequestID string

// ConnectionID identifies a websocket attachment
type ConnectionID string

const (
	SessionPrefix    = "sess"
	RequestPrefix    = "req"
	ConnectionPrefix = "conn"
)

// Generator generates ULIDs. IDs from one generator are strictly increasing,
// even within a millisecond.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source,
// for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: ulid.Monotonic(entropy, 0)}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewSessionID generates an id for a session created without one
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewConnectionID generates a new websocket connection ID
func NewConnectionID() ConnectionID {
	return ConnectionID(ConnectionPrefix + "_" + uuid.NewString())
}

func (id SessionID) String() string    { return string(id) }
func (id RequestID) String() string    { return string(id) }
func (id ConnectionID) String() string { return string(id) }

// IsValid checks if an ID string is a valid ULID, with or without a prefix
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// Parse parses a ULID string, ignoring any prefix
func Parse(id string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return ulid.ParseStrict(id)
}

// Timestamp extracts the creation time from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
