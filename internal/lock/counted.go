package lock

import (
	"context"

	"arbor/internal/errors"
)

type Mode int

const (
	Unlocked Mode = iota
	ReadLocked
	WriteLocked
)

func (m Mode) String() string {
	switch m {
	case ReadLocked:
		return "read"
	case WriteLocked:
		return "write"
	default:
		return "unlocked"
	}
}

// Physical is the cross-process lock behind a Counted.
type Physical interface {
	Acquire(ctx context.Context) (string, error)
	Release(token string) error
	BreakLock() error
}

// Counted tracks nested lock calls made by one repository object. Only the
// outermost write lock touches the physical lock; read locks are advisory.
type Counted struct {
	physical Physical
	mode     Mode
	count    int
	token    string
}

func NewCounted(physical Physical) *Counted {
	return &Counted{physical: physical}
}

func (c *Counted) Mode() Mode { return c.mode }

func (c *Counted) IsLocked() bool { return c.mode != Unlocked }

func (c *Counted) IsWriteLocked() bool { return c.mode == WriteLocked }

// LockRead takes a read lock. Inside a write lock it only bumps the count.
func (c *Counted) LockRead() error {
	if c.mode == Unlocked {
		c.mode = ReadLocked
	}
	c.count++
	return nil
}

func (c *Counted) LockWrite(ctx context.Context) (string, error) {
	switch c.mode {
	case ReadLocked:
		return "", errors.LockError("cannot upgrade a read lock to a write lock")
	case WriteLocked:
		c.count++
		return c.token, nil
	}
	token, err := c.physical.Acquire(ctx)
	if err != nil {
		return "", err
	}
	c.mode = WriteLocked
	c.count = 1
	c.token = token
	return token, nil
}

// Unlock releases one level; the outermost call releases the physical lock.
func (c *Counted) Unlock() error {
	if c.mode == Unlocked {
		return errors.LockError("unlock called on an object that is not locked")
	}
	c.count--
	if c.count > 0 {
		return nil
	}
	mode := c.mode
	c.mode = Unlocked
	if mode == WriteLocked {
		token := c.token
		c.token = ""
		return c.physical.Release(token)
	}
	return nil
}

// BreakLock forcibly clears the physical lock and this object's state.
func (c *Counted) BreakLock() error {
	c.mode = Unlocked
	c.count = 0
	c.token = ""
	return c.physical.BreakLock()
}
