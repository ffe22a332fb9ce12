//go:build !unix

package secbuf

// lockMemory is a no-op on platforms without mlock; locking is advisory
// and its absence never blocks operation (see spec §9).
func lockMemory(b []byte) bool { return false }

func unlockMemory(b []byte) error { return nil }
