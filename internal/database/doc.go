// Package database manages the PostgreSQL (or TimescaleDB) pool used to
// archive channel frames, and the schema the recorder writes into.
package database
