// Package services holds cross-cutting service plumbing: the error taxonomy
// used to classify stage failures and the context keys that carry job
// identity through the pipeline.
package services
