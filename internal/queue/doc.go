// Package queue persists summarization jobs in SQLite and owns the status
// state machine the pipeline manager drives. Every stage records its durable
// result here so a restarted daemon resumes from the last completed stage
// instead of starting over.
package queue
