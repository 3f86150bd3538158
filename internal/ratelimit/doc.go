// Package ratelimit provides fixed-window admission control shared by the
// extraction strategies. Each budget key has its own counter and lock so
// unrelated strategies never serialize on each other.
package ratelimit
