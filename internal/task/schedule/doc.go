// Package schedule turns task schedules into concrete fire times.
//
// Weekly slots are evaluated with robfig/cron spec schedules in the configured
// location; intervals are plain offsets from the evaluation instant. The package
// also parses the text forms accepted by the CLI and config, and the job specs
// used for background maintenance jobs.
package schedule
