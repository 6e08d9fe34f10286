// File: internal/audit/spool.go
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/json-iterator/go"
)

// Spool is an append-only JSON-lines file decoupling record creation from
// delivery: enforcement never waits on the network, and records produced
// while the reporting endpoint is down ship once it returns.
type Spool struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// OpenSpool opens (creating if needed) the spool at path.
func OpenSpool(path string) (*Spool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: creating spool directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: opening spool: %w", err)
	}
	return &Spool{path: path, file: file}, nil
}

// Path returns the spool file location, for the shipper to follow.
func (s *Spool) Path() string { return s.path }

// Append writes one record as a single line.
func (s *Spool) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: encoding record: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("audit: appending record: %w", err)
	}
	return nil
}

// Close flushes and closes the spool file.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
