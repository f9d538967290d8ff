package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kshitijatalathi-lab/kat-auditagent/internal/audit"
)

// SessionLog appends scoring events to a JSONL file, one object per line.
type SessionLog struct {
	mu   sync.Mutex
	path string
}

func NewSessionLog(path string) *SessionLog {
	return &SessionLog{path: path}
}

func (l *SessionLog) Record(evt audit.SessionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create session log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode session event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append session event: %w", err)
	}
	return nil
}
