// Package store defines the records and narrow repository interfaces the crawl
// core persists through. Implementations live under internal/storage; this
// package must not import database drivers or concrete clients.
package store
