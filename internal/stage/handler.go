package stage

import (
	"context"

	"lectern/internal/queue"
)

// Handler describes the contract the pipeline manager needs from each stage.
// Prepare runs after the job is claimed and may mutate it before work begins;
// Execute does the work and leaves the job's next durable status on it.
type Handler interface {
	Prepare(context.Context, *queue.Job) error
	Execute(context.Context, *queue.Job) error
	HealthCheck(context.Context) Health
}
