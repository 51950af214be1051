package printjob

import "github.com/rusq/printcore/sacp"

// Session remembers the origin of the request that caused the pending
// asynchronous operation.  Only one origin is tracked: a new state changing
// request supersedes the previous one.
type Session struct {
	origin sacp.Origin
	valid  bool
}

// Save records o as the origin of the pending operation.
func (s *Session) Save(o sacp.Origin) {
	s.origin = o
	s.valid = true
}

// Origin returns the saved origin, if any.
func (s *Session) Origin() (sacp.Origin, bool) {
	return s.origin, s.valid
}

func (s *Session) Clear() {
	*s = Session{}
}
