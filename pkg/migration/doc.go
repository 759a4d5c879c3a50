// Package migration implements a forward-only schema migration chain
// over pkg/storage: each step backs up every key before running,
// writes the new schema version atomically on success, and restores
// from backup if the step fails. Migrations are not pause/resumable,
// but each step's Migrate must be idempotent so a crash mid-chain can
// be safely retried from its starting version on the next Run.
package migration
