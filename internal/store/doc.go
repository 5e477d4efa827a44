// Package store defines the persistence contracts and record types shared by
// the crawl pipeline and the query API. Implementations live in
// internal/storage/...; this package must not import database drivers or
// concrete clients.
package store
