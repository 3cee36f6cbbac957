// Package ptr provides generic pointer helpers for tests.
package ptr

import "time"

// To returns a pointer to v.
func To[T any](v T) *T { return &v }

// Time returns a pointer to the given time.Time value.
func Time(v time.Time) *time.Time { return &v }
