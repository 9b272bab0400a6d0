// Package lock implements the advisory lock used to serialise writers
// against one repository location.
package lock

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"os/user"
	"time"

	"arbor/internal/errors"
	"arbor/internal/logging"
	"arbor/internal/transport"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HolderInfo is written inside a held lock so contenders can say who holds it.
type HolderInfo struct {
	Nonce    string    `json:"nonce"`
	PID      int       `json:"pid"`
	Host     string    `json:"host"`
	User     string    `json:"user"`
	Acquired time.Time `json:"acquired"`
}

func (h *HolderInfo) String() string {
	return fmt.Sprintf("%s@%s (pid %d, since %s)", h.User, h.Host, h.PID, h.Acquired.Format(time.RFC3339))
}

// LockDir is a physical lock: the lock is held while its directory exists.
type LockDir struct {
	t       transport.Transport
	path    string
	timeout time.Duration
	poll    time.Duration
	logger  *zap.Logger
}

type Option func(*LockDir)

func WithTimeout(d time.Duration) Option { return func(l *LockDir) { l.timeout = d } }

func WithPoll(d time.Duration) Option { return func(l *LockDir) { l.poll = d } }

func WithLogger(logger *zap.Logger) Option { return func(l *LockDir) { l.logger = logger } }

func NewLockDir(t transport.Transport, path string, opts ...Option) *LockDir {
	l := &LockDir{
		t:       t,
		path:    path,
		timeout: 30 * time.Second,
		poll:    200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.OrNop(l.logger)
	return l
}

func (l *LockDir) infoPath() string { return l.path + "/info" }

// Acquire takes the lock, waiting up to the configured timeout, and returns
// the token that must be passed to Release.
func (l *LockDir) Acquire(ctx context.Context) (string, error) {
	deadline := time.Now().Add(l.timeout)
	logged := false
	for {
		err := l.t.Mkdir(l.path)
		if err == nil {
			return l.writeInfo()
		}
		if !stderrors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("acquiring lock %s: %w", l.path, err)
		}

		holder := ""
		if info, perr := l.Peek(); perr == nil && info != nil {
			holder = info.String()
		}
		if !time.Now().Before(deadline) {
			return "", errors.LockContention(l.t.Base()+"/"+l.path, holder)
		}
		if !logged {
			l.logger.Info("waiting for lock", zap.String("lock", l.path), zap.String("holder", holder))
			logged = true
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

func (l *LockDir) writeInfo() (string, error) {
	info := HolderInfo{
		Nonce:    uuid.New().String(),
		PID:      os.Getpid(),
		Acquired: time.Now().UTC(),
	}
	info.Host, _ = os.Hostname()
	if u, err := user.Current(); err == nil {
		info.User = u.Username
	}
	data, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("marshaling lock info: %w", err)
	}
	if err := l.t.Put(l.infoPath(), data); err != nil {
		l.t.Rmdir(l.path)
		return "", fmt.Errorf("writing lock info: %w", err)
	}
	return info.Nonce, nil
}

// Peek returns the current holder, or nil when the lock is free.
func (l *LockDir) Peek() (*HolderInfo, error) {
	data, err := l.t.Get(l.infoPath())
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var info HolderInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decoding lock info: %w", err)
	}
	return &info, nil
}

// Release drops the lock if token matches the holder's nonce.
func (l *LockDir) Release(token string) error {
	info, err := l.Peek()
	if err != nil {
		return err
	}
	if info == nil {
		return errors.LockError(fmt.Sprintf("lock %s is not held", l.path))
	}
	if info.Nonce != token {
		return errors.LockError(fmt.Sprintf("lock %s is held by %s, not by this token", l.path, info))
	}
	return l.t.Rmdir(l.path)
}

// BreakLock removes the lock regardless of holder.
func (l *LockDir) BreakLock() error {
	info, _ := l.Peek()
	if info != nil {
		l.logger.Warn("breaking lock", zap.String("lock", l.path), zap.String("holder", info.String()))
	}
	return l.t.Rmdir(l.path)
}
