// Package progress carries crawl and repair run events from the pipeline to
// pluggable sinks. The Hub batches events on a background goroutine so the
// crawl loop never blocks on logging, metrics or run-summary publication.
package progress
