package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

const (
	// DefaultCorruptAlertThreshold is the share of unreadable lines Load
	// tolerates before refusing the file.
	DefaultCorruptAlertThreshold = 0.1

	compactSuffix = "~"
	maxLineSize   = 16 * 1024 * 1024
)

// Datafile is an append-only log with one JSON record per line. Every
// mutation appends; Compact rewrites the file with the current state.
type Datafile struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	threshold float64
	logger    *slog.Logger
}

// NewDatafile returns a datafile at path. A negative threshold disables the
// corruption check.
func NewDatafile(path string, corruptAlertThreshold float64, log *slog.Logger) *Datafile {
	if log == nil {
		log = slog.Default()
	}
	return &Datafile{
		path:      path,
		threshold: corruptAlertThreshold,
		logger:    log,
	}
}

// Path returns the datafile location.
func (df *Datafile) Path() string { return df.path }

// ensureFile makes sure the datafile exists, recovering the compaction
// temporary if a crash left only that behind.
func (df *Datafile) ensureFile() error {
	if err := os.MkdirAll(filepath.Dir(df.path), 0o755); err != nil {
		return ioError("create datafile directory", err)
	}
	if _, err := os.Stat(df.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return ioError("stat datafile", err)
	}

	tmp := df.path + compactSuffix
	if _, err := os.Stat(tmp); err == nil {
		df.logger.Warn("recovering datafile from compaction temporary", "path", tmp)
		if err := os.Rename(tmp, df.path); err != nil {
			return ioError("recover datafile", err)
		}
		return nil
	}

	f, err := os.OpenFile(df.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return ioError("create datafile", err)
	}
	return f.Close()
}

// Load replays the datafile.
func (df *Datafile) Load() (*Snapshot, error) {
	df.mu.Lock()
	defer df.mu.Unlock()

	if err := df.ensureFile(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(df.path)
	if err != nil {
		return nil, ioError("read datafile", err)
	}
	return df.parse(data)
}

func (df *Datafile) parse(data []byte) (*Snapshot, error) {
	r := newReplay()
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	total, corrupt := 0, 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		total++
		rec, err := DecodeRecord(line)
		if err != nil {
			corrupt++
			df.logger.Warn("skipping corrupt datafile line", "path", df.path, "line", total, "error", err)
			continue
		}
		r.apply(rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, ioError("scan datafile", err)
	}

	if df.threshold >= 0 && total > 0 && float64(corrupt)/float64(total) > df.threshold {
		return nil, &engine.Error{
			Kind: engine.KindCorrupt,
			Message: fmt.Sprintf("%d of %d lines unreadable, more than the %.0f%% threshold",
				corrupt, total, df.threshold*100),
		}
	}
	return r.snapshot(), nil
}

func (df *Datafile) openAppend() error {
	if df.file != nil {
		return nil
	}
	f, err := os.OpenFile(df.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return ioError("open datafile", err)
	}
	df.file = f
	return nil
}

// Append writes records at the end of the datafile.
func (df *Datafile) Append(records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, rec := range records {
		line, err := EncodeRecord(rec)
		if err != nil {
			return ioError("encode record", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	df.mu.Lock()
	defer df.mu.Unlock()

	if err := df.openAppend(); err != nil {
		return err
	}
	if _, err := df.file.Write(buf.Bytes()); err != nil {
		return ioError("append datafile", err)
	}
	return nil
}

// Compact replaces the datafile with docs and index definitions. The new
// content is written to a temporary file, synced, then renamed over the
// datafile so a crash leaves either the old or the new file intact.
func (df *Datafile) Compact(docs []engine.Document, indexes []engine.IndexSpec) error {
	df.mu.Lock()
	defer df.mu.Unlock()

	if df.file != nil {
		_ = df.file.Close()
		df.file = nil
	}

	tmp := df.path + compactSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return ioError("create compaction file", err)
	}
	w := bufio.NewWriter(f)
	if err := writeRecords(w, docs, indexes); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return ioError("write compaction file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return ioError("sync compaction file", err)
	}
	if err := f.Close(); err != nil {
		return ioError("close compaction file", err)
	}
	if err := os.Rename(tmp, df.path); err != nil {
		return ioError("replace datafile", err)
	}
	syncDir(filepath.Dir(df.path))

	df.logger.Debug("datafile compacted", "path", df.path, "docs", len(docs), "indexes", len(indexes))
	return nil
}

func writeRecords(w io.Writer, docs []engine.Document, indexes []engine.IndexSpec) error {
	write := func(rec Record) error {
		line, err := EncodeRecord(rec)
		if err != nil {
			return ioError("encode record", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return ioError("write compaction file", err)
		}
		return nil
	}
	for _, d := range docs {
		if err := write(DocRecord(d)); err != nil {
			return err
		}
	}
	for _, spec := range indexes {
		if spec.FieldName == engine.IDField {
			continue
		}
		if err := write(IndexCreatedRecord(spec)); err != nil {
			return err
		}
	}
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Close releases the append handle.
func (df *Datafile) Close() error {
	df.mu.Lock()
	defer df.mu.Unlock()

	if df.file == nil {
		return nil
	}
	if err := df.file.Sync(); err != nil {
		df.file.Close()
		df.file = nil
		return ioError("sync datafile", err)
	}
	err := df.file.Close()
	df.file = nil
	return err
}
