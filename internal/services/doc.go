// Package services holds the cross-cutting error classification and
// context annotation helpers shared by the extraction strategies and the
// scheduler.
package services
