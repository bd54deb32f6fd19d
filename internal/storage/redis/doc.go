// Package redis holds Redis-backed shared state for running several agent
// instances against one spend cap. Reservation is a single Lua script, so the
// check-then-log step stays atomic across processes.
package redis
