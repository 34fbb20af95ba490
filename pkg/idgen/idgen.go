package idgen

import "sync/atomic"

// Int64 returns values 1,2,3...
// Zero is never generated, so it can be used to mean "no ID".
type Int64 struct {
	next atomic.Int64
}

func (u *Int64) Next() int64 {
	return u.next.Add(1)
}

// Number of IDs generated since the last Reset
func (u *Int64) Count() int64 {
	return u.next.Load()
}

func (u *Int64) Reset() {
	u.next.Store(0)
}
