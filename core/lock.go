package core

import "context"

// Locker provides mutual exclusion per key. Lock blocks until the key is
// held or ctx ends; the returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// DayLockKey is the key serialising ledger transitions for one employee
// on one date.
func DayLockKey(id EntityID, d Date) string {
	return "attendance:" + string(id) + ":" + d.String()
}
