package vinylauth

import "time"

// Clock hooks for the external test package.

func (p *PasswordResets) SetClock(now func() time.Time)       { p.now = now }
func (l *Linker) SetClock(now func() time.Time)               { l.now = now }
func (s *CookieHandshakeStore) SetClock(now func() time.Time) { s.now = now }
