package service

import "sync"

// keyedMutex serializes work per device identity: reports for the same
// device take turns, reports for different devices run in parallel.
// Entries live for the process lifetime; the key space is the device fleet,
// which is small and bounded.
type keyedMutex struct {
	mus sync.Map
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	v, _ := k.mus.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
