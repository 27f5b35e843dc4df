// Package eventlog implements the durable, append-only per-camera event
// journal of spec.md §4.7: newline-delimited JSON, one record per event,
// line-atomic appends, and byte-offset tailing for external readers.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/outletguard/orchestrator/internal/domain"
)

// Log is one camera's (or the aggregator's) events.jsonl file.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Open opens (creating if necessary) the events.jsonl file at path for
// appending.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log %s: %w", path, err)
	}
	return &Log{path: path, file: f}, nil
}

// Append writes one event as a single JSON line. The write is atomic at the
// line level: the full line is buffered and written with one syscall, then
// fsynced, so an interrupted process leaves either a full line or none.
func (l *Log) Append(event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return l.file.Sync()
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Path returns the journal's file path.
func (l *Log) Path() string { return l.path }

// TailResult is one malformed-or-valid line's decoding outcome, used so
// callers can log+skip malformed lines per spec.md §7 without losing the
// byte offset needed to resume tailing.
type TailResult struct {
	Event      *domain.Event
	RawLine    string
	MalformedErr error
}

// Tail reads every line at or after byte offset from, returning the decoded
// events plus the new offset to resume from. Malformed lines are reported
// in the result slice (so the caller can log at warn and skip) rather than
// aborting the tail.
func Tail(path string, from int64) (results []TailResult, newOffset int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, from, fmt.Errorf("open event log for tail: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(from, 0); err != nil {
		return nil, from, fmt.Errorf("seek event log: %w", err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	offset := from
	for scanner.Scan() {
		line := scanner.Text()
		offset += int64(len(line)) + 1 // + newline

		var ev domain.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			results = append(results, TailResult{RawLine: line, MalformedErr: err})
			continue
		}
		results = append(results, TailResult{Event: &ev, RawLine: line})
	}
	if err := scanner.Err(); err != nil {
		return results, offset, fmt.Errorf("scan event log: %w", err)
	}
	return results, offset, nil
}
