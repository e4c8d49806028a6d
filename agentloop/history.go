package agentloop

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"

	"github.com/coderelay/coderelay/protocol"
)

// maxHistoryLineBytes bounds a single history line on read.
const maxHistoryLineBytes = 1 << 20

// FileHistoryStore keeps cross-session message history in a JSON-lines file.
// The log id is derived from the file path so a lookup against a different
// log is detected and answered with no entry.
type FileHistoryStore struct {
	path  string
	logID uint64
	mu    sync.Mutex
}

// NewFileHistoryStore opens or creates the history log at path.
func NewFileHistoryStore(path string) (*FileHistoryStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	f.Close()
	h := fnv.New64a()
	h.Write([]byte(path))
	return &FileHistoryStore{path: path, logID: h.Sum64()}, nil
}

// LogID identifies this log for later lookups.
func (s *FileHistoryStore) LogID() uint64 { return s.logID }

// Append adds one history line.
func (s *FileHistoryStore) Append(ctx context.Context, sessionID, text string) error {
	entry := protocol.HistoryEntry{
		SessionID: sessionID,
		Timestamp: time.Now().Unix(),
		Text:      text,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// Lookup fetches the entry at offset. It reports false when logID does not
// match this store or the offset is out of range.
func (s *FileHistoryStore) Lookup(logID uint64, offset int) (*protocol.HistoryEntry, bool) {
	if logID != s.logID || offset < 0 {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxHistoryLineBytes)
	for i := 0; sc.Scan(); i++ {
		if i != offset {
			continue
		}
		var entry protocol.HistoryEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return nil, false
		}
		return &entry, true
	}
	return nil, false
}
