// Package extract defines the strategy abstraction for pulling a transcript
// out of a video source and the fallback chain that tries strategies in
// order until one succeeds or the chain is exhausted.
package extract
