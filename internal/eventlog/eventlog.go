// Package eventlog implements the append-only, line-delimited JSON event
// log of outbound UI events ("an append-only event
// log (JSONL, one object per line)"). Grounded on the source's
// monologue.recorder, which logged every bus publish/request; here the
// UIBridge's outbound events (a superset covering every user-visible
// system event) are the append source, recording both the forensic audit
// trail and the UI-facing history in one sink.
package eventlog

import (
	"encoding/json"
	"os"
	"sync"
)

// Log is a thread-safe appender over a single JSONL file.
type Log struct {
	mu sync.Mutex
	f  *os.File
}

// Open creates or appends to the log file at path.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Log{f: f}, nil
}

// Append serializes v as one JSON line and writes it, flushing immediately.
func (l *Log) Append(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	body = append(body, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.f.Write(body)
	return err
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
