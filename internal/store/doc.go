// Package store defines interfaces for persistence dependencies (the change-aware
// entity store and run history). Implementations live in other packages; this
// package must not import database drivers or concrete clients.
package store
