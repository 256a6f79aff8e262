package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"mediagrab/pkg/models"
	"mediagrab/pkg/utils"
)

// csvHeader is the audit log schema. One row per media URL decision.
var csvHeader = []string{"source_page", "media_url", "local_path", "status", "note"}

// Log is the crawl's audit trail: a CSV of every download decision plus a
// sidecar of stream URLs that were detected but not converted. Rows are
// flushed as they are written so a killed run loses nothing.
type Log struct {
	mu         sync.Mutex
	file       *os.File
	writer     *csv.Writer
	streamPath string
}

// Open opens the audit CSV in dir for appending, writing the header only
// when the file is new. A resumed crawl keeps the earlier run's rows.
// The stream sidecar is created lazily on first use.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating audit dir %s: %v", utils.ErrFilesystem, dir, err)
	}

	csvPath := filepath.Join(dir, "download_log.csv")
	f, err := os.OpenFile(csvPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening audit log %s: %v", utils.ErrFilesystem, csvPath, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat audit log %s: %v", utils.ErrFilesystem, csvPath, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: writing audit header: %v", utils.ErrFilesystem, err)
		}
		w.Flush()
	}

	return &Log{
		file:       f,
		writer:     w,
		streamPath: filepath.Join(dir, "stream_urls.txt"),
	}, nil
}

// Record appends one decision row and flushes it to disk.
func (l *Log) Record(r models.DownloadResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := []string{r.SourcePageURL, r.MediaURL, r.LocalPath, string(r.Status), r.Note}
	if err := l.writer.Write(row); err != nil {
		return fmt.Errorf("%w: writing audit row: %v", utils.ErrFilesystem, err)
	}
	l.writer.Flush()
	return l.writer.Error()
}

// SaveStreamURL appends a stream manifest URL to the sidecar so an operator
// can hand it to an external tool when automatic conversion was impossible.
func (l *Log) SaveStreamURL(rawURL, streamType string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.streamPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: opening stream sidecar: %v", utils.ErrFilesystem, err)
	}
	defer f.Close()

	line := rawURL + "\n"
	if streamType != "" {
		line = fmt.Sprintf("[%s] %s\n", streamType, rawURL)
	}
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("%w: writing stream sidecar: %v", utils.ErrFilesystem, err)
	}
	return nil
}

// StreamPath returns the sidecar location for end-of-run reporting.
func (l *Log) StreamPath() string { return l.streamPath }

// Close flushes and closes the CSV.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
