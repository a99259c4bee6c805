// Package acquiring implements the first pipeline stage: gathering every
// input a job needs before segmentation. Media fetch, transcription, and
// slide extraction each read through the stage cache and retry independently;
// the optional inputs degrade the job instead of failing it.
package acquiring
