// Package threat turns repeated abuse signals into temporary blocks.
//
// Every key (usually "ip:<addr>") has a severity score that grows with
// each reported [Signal] and halves every HalfLife. When the score
// reaches the configured threshold and auto-blocking is on, the key is
// blocked for BlockDuration. Callers check [Monitor.IsBlocked] before any
// other work on the request path.
package threat
