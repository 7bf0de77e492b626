package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Journal appends one JSON record per session transition to
// <dataDir>/sessions/<id>.jsonl. Records carry the transition, the account
// and chain involved and message lengths; balances, names and signatures are
// never written. Nothing reads the file back to restore a session. A nil
// *Journal discards records.
type Journal struct {
	mu   sync.Mutex
	id   string
	path string
	f    *os.File
}

// OpenJournal creates a new journal file with a random id.
func OpenJournal(dataDir string) (*Journal, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data dir not configured")
	}
	dir := filepath.Join(dataDir, "sessions")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	path := filepath.Join(dir, id+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &Journal{id: id, path: path, f: f}, nil
}

func (j *Journal) ID() string {
	if j == nil {
		return ""
	}
	return j.id
}

func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.path
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

type journalRecord struct {
	TS      string `json:"ts"`
	Type    string `json:"type"`
	Account string `json:"account,omitempty"`
	ChainID int64  `json:"chain_id,omitempty"`
	MsgLen  int    `json:"msg_len,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (j *Journal) record(r journalRecord) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return
	}

	r.TS = time.Now().UTC().Format(time.RFC3339Nano)
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	b = append(b, '\n')
	_, _ = j.f.Write(b)
}
