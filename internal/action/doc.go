// Package action runs the maintenance work behind a scheduled task.
//
// A Dispatcher routes each execution request to the handler registered for
// the task type, rate limited per type. CommandHandler spawns an external
// program (a scraper, an updater script) with the task's fields as arguments
// and environment.
package action
