package memdb

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/kartikbazzad/bunbase/bunstore/internal/logger"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

// Persistence backends selectable by name.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Options configures a Datastore.
type Options struct {
	// Filename of the datafile. Empty means in-memory only.
	Filename string

	// InMemoryOnly ignores Filename and never touches disk.
	InMemoryOnly bool

	// Backend selects the persistence format for Filename: "file" (default)
	// or "sqlite".
	Backend string

	// Storage overrides Filename and Backend with a caller-provided backend.
	Storage storage.Backend

	// TimestampData adds createdAt and updatedAt to every document.
	TimestampData bool

	// Schema is an optional JSON Schema every inserted or updated document
	// must satisfy.
	Schema string

	// CorruptAlertThreshold is the share of unreadable datafile lines
	// tolerated on load. Zero selects 0.1; a negative value disables the
	// check.
	CorruptAlertThreshold float64

	// CallbackWorkers bounds concurrent completion callbacks
	// (default: NumCPU).
	CallbackWorkers int

	// IDGenerator returns new document identifiers (default: UUIDv4).
	IDGenerator func() string

	// Now returns the current time for timestamps (default: time.Now).
	Now func() time.Time

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Backend == "" {
		o.Backend = BackendFile
	}
	if o.CorruptAlertThreshold == 0 {
		o.CorruptAlertThreshold = storage.DefaultCorruptAlertThreshold
	}
	if o.CallbackWorkers <= 0 {
		o.CallbackWorkers = runtime.NumCPU()
	}
	if o.IDGenerator == nil {
		o.IDGenerator = uuid.NewString
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = logger.Get()
	}
	return o
}

func (o Options) inMemory() bool {
	return o.Storage == nil && (o.InMemoryOnly || o.Filename == "")
}
