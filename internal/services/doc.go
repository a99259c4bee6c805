// Package services defines the shared error taxonomy and context plumbing
// used by every pipeline stage. External-call failures are wrapped with one
// of the sentinel markers below so the retry controller and queue can
// classify them without inspecting provider-specific error strings.
package services
