// Package storage persists what outlives a game session: the command audit
// trail and players added to the block list at runtime.
//
// Drivers:
//   - "file": zstd-compressed JSON Lines audit files rotated daily, plus a
//     plain-text block list in the same format the bot seeds from
//   - "sqlite": a single SQLite database (modernc.org/sqlite, pure Go)
package storage
