// Package storage persists the schedule document and the dead-letter list.
//
// Every driver stores the queue as one JSON document that is replaced
// atomically on save:
//   - file:   a JSON file written via tmp+fsync+rename, flock(2) for
//     cross-process exclusion, dead letters as JSON Lines
//   - sqlite: a single-row table plus a dead_letters table
//   - redis:  one string key plus a list, SET NX lease for exclusion
package storage
