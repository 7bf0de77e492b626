package session

import (
	"sync"
	"time"
)

// Level grades a Notice.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Op names the step a Notice is about.
type Op string

const (
	OpConnect        Op = "connect"
	OpBalance        Op = "balance"
	OpNetwork        Op = "network"
	OpIdentity       Op = "identity"
	OpSigner         Op = "signer"
	OpAccountChanged Op = "accounts_changed"
	OpChainChanged   Op = "chain_changed"
	OpSign           Op = "sign"
	OpVerify         Op = "verify"
)

// Notice is a user-facing report about one step. Every failure the manager
// sees is delivered as a Notice, whether or not it aborts the operation.
type Notice struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Op      Op        `json:"op"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Notifier is the single sink for notices. Notify is called without any
// manager lock held and may call back into the manager.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type discard struct{}

func (discard) Notify(Notice) {}

// NoticeBuffer keeps the most recent notices in memory.
type NoticeBuffer struct {
	mu    sync.Mutex
	max   int
	items []Notice
}

// NewNoticeBuffer keeps up to max notices; older ones are dropped.
func NewNoticeBuffer(max int) *NoticeBuffer {
	if max <= 0 {
		max = 100
	}
	return &NoticeBuffer{max: max}
}

func (b *NoticeBuffer) Notify(n Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, n)
	if over := len(b.items) - b.max; over > 0 {
		b.items = append([]Notice(nil), b.items[over:]...)
	}
}

// Recent returns a copy of the buffered notices, oldest first.
func (b *NoticeBuffer) Recent() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Notice(nil), b.items...)
}

// Last returns the newest notice.
func (b *NoticeBuffer) Last() (Notice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return Notice{}, false
	}
	return b.items[len(b.items)-1], true
}

// Fanout delivers each notice to every notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(n Notice) {
	for _, nt := range f {
		if nt != nil {
			nt.Notify(n)
		}
	}
}
