// Package observability records interview session events as JSON Lines and
// derives metrics, session summaries and alerts from them on demand.
package observability
