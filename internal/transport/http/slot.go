package http

import (
	"sync/atomic"

	"github.com/farmpulse/storepulse/internal/session"
	v1 "github.com/farmpulse/storepulse/internal/transport/http/v1"
)

// Slot holds the session the local API serves. It empties itself when that
// session logs out, manually or because the backend rejected it.
type Slot struct {
	current atomic.Pointer[session.Session]
}

// Set makes s the served session.
func (sl *Slot) Set(s *session.Session) {
	sl.current.Store(s)
	s.OnLogout(func(error) {
		sl.current.CompareAndSwap(s, nil)
	})
}

// Provider returns the slot as a v1.Provider.
func (sl *Slot) Provider() v1.Provider {
	return func() (v1.Session, bool) {
		s := sl.current.Load()
		if s == nil {
			return nil, false
		}
		return s, true
	}
}
