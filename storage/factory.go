package storage

import "fmt"

// New opens the spool backend named by backend: "badger" (default, durable
// under dataDir) or "memory".
func New(backend, dataDir string) (Storage, error) {
	switch backend {
	case "", "badger":
		return NewBadgerStorage(dataDir)
	case "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
