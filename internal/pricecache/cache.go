// Package pricecache holds the shared current-price cache keyed by symbol:
// written by the Position Monitor, read by the Risk Engine and the Closer.
package pricecache

import (
	"sync"

	"github.com/ironfly/btcfly-engine/internal/domain"
)

// Cache is a concurrent map of symbol -> most recently observed book top.
type Cache struct {
	mu    sync.RWMutex
	books map[string]domain.BookTop
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{books: make(map[string]domain.BookTop)}
}

// Set records the latest book top for symbol.
func (c *Cache) Set(symbol string, book domain.BookTop) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[symbol] = book
}

// Get returns the most recently recorded book top for symbol, if any.
func (c *Cache) Get(symbol string) (domain.BookTop, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.books[symbol]
	return b, ok
}
