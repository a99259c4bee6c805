// Package pipeline drives jobs through the summarization stages. A polling
// loop claims the oldest job whose status starts a stage, marks it in-flight,
// and hands it to a bounded worker pool. Heartbeats keep claimed jobs visible;
// jobs whose heartbeats lapse are rolled back to the start of their stage so
// another worker (or a restarted daemon) can resume them.
package pipeline
