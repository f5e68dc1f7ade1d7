//go:build !unix

package lockmanager

// flockBlocking is a no-op outside unix: process-local fairness still holds
// through the ticket channels, only cross-process advisory locking is lost.
func (l *CaseLock) flockBlocking(exclusive bool) error { return nil }

func (l *CaseLock) flockUnlock() error { return nil }
