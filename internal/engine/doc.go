// Package engine orchestrates experiments. The Submitter expands one creation
// request into backend jobs, the Registry holds the resulting experiments for
// the life of the process, and the Poller is the single background writer
// that refreshes scenario statuses, fetches solver outputs on success and
// re-derives each experiment's aggregate status.
package engine
