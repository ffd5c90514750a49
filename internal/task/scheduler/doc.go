// Package scheduler is the facade over the scheduled-task subsystem.
//
// It owns the timer registry and the lifecycle (Uninitialized, Initializing,
// Ready), and wires the pieces together:
//   - timers fire into the execution coordinator (trigger=timer)
//   - the coordinator re-arms timers through the facade after each run
//   - validator repairs are mirrored onto the timers
//   - a cron job runs the validator periodically
//
// Task edits made through CreateTask/UpdateTask/DeleteTask/SyncTask keep the
// store and the timers in step.
package scheduler
