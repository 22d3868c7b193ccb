// Package stores writes the non-sensitive output context of a run.
//
// NewWriter picks the format from the output path: .yaml and .yml files
// receive a YAML mapping, .db, .sqlite and .sqlite3 files a SQLite table
// and anything else an indented JSON object. Every writer replaces the
// previous content, so a file always holds the snapshot of the last run.
package stores
