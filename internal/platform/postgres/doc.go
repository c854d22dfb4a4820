// Package postgres provides PostgreSQL implementations of the store
// interfaces: todo and user lookups, the notification_log dedup table, and a
// LISTEN/NOTIFY listener that turns todo inserts into creation events.
//
// Stores work against store.DBTX so they run equally on a *sql.DB opened
// with the pgx stdlib driver or inside a transaction. The embedded migrations
// define the schema they expect.
package postgres
