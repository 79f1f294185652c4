// Package datarecording keeps the per-round record of the monitor: one row per
// recorded round with the iteration, a timestamp and every tag value.
package datarecording

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/cosim/store"
)

// Output formats.
const (
	FormatCSV    = "csv"
	FormatSQLite = "sqlite"
)

// DefaultName is the base name of the record file.
const DefaultName = "scada_values"

// A Recorder appends rows to the record. Rows are buffered until Flush.
type Recorder interface {
	// Record buffers one row. The row must match the header.
	Record(row []string) error

	// Flush writes every buffered row.
	Flush() error

	// Close flushes and releases the record.
	Close() error

	// Path is the file the record is written to.
	Path() string
}

// Header returns the columns of a record of the given tags.
func Header(tags []string) []string {
	return append([]string{"iteration", "timestamp"}, tags...)
}

// Builder can build recorders.
type Builder struct {
	format string
	dir    string
	name   string
	driver string
	header []string
	logger *slog.Logger
}

// MakeBuilder returns a builder of CSV recorders writing scada_values.csv in
// the working directory.
func MakeBuilder() Builder {
	return Builder{
		format: FormatCSV,
		dir:    ".",
		name:   DefaultName,
		driver: store.DriverCgo,
	}
}

// WithFormat selects FormatCSV or FormatSQLite.
func (b Builder) WithFormat(format string) Builder {
	b.format = format
	return b
}

// WithDir sets the directory of the record file.
func (b Builder) WithDir(dir string) Builder {
	b.dir = dir
	return b
}

// WithName sets the base name of the record file. An empty name gets a
// unique one.
func (b Builder) WithName(name string) Builder {
	b.name = name
	return b
}

// WithDriver sets the sqlite driver of FormatSQLite.
func (b Builder) WithDriver(driver string) Builder {
	b.driver = driver
	return b
}

// WithTags sets the recorded tags. The header is derived from them.
func (b Builder) WithTags(tags []string) Builder {
	b.header = Header(tags)
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates the record file, writes its header and registers a flush at
// exit.
func (b Builder) Build() (Recorder, error) {
	name := b.name
	if name == "" {
		name = "cosim_record_" + xid.New().String()
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "recorder")

	base := filepath.Join(b.dir, name)

	var (
		r   Recorder
		err error
	)

	switch b.format {
	case FormatCSV, "":
		r, err = newCSVRecorder(base+".csv", b.header)
	case FormatSQLite:
		r, err = newSQLiteRecorder(base+".sqlite3", b.driver, b.header)
	default:
		return nil, fmt.Errorf("unknown output format %q", b.format)
	}

	if err != nil {
		return nil, err
	}

	logger.Info("recording", "path", r.Path())

	atexit.Register(func() {
		if err := r.Flush(); err != nil {
			logger.Error("flush at exit", "error", err)
		}
	})

	return r, nil
}

func checkRow(header, row []string) error {
	if len(row) != len(header) {
		return fmt.Errorf("row has %d columns, header has %d", len(row), len(header))
	}

	return nil
}
