package treealg

import "github.com/madcowbg/hoard/storage"

func newMemBacking() *storage.InMemory {
	return storage.NewInMemory()
}
