// Package task holds the scheduled-task domain model shared by the scheduler,
// the execution engine, the association validator and the storage drivers.
package task
