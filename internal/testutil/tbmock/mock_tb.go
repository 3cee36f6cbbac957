// Package tbmock provides a testing.TB double for verifying fail-fast helpers.
package tbmock

import (
	"fmt"
	"testing"
)

// FatalSentinel is panicked by MockTB to stop the helper under test the way
// runtime.Goexit stops a real test. ExpectFatal recovers it.
type FatalSentinel struct{ Msg string }

// MockTB embeds a real testing.TB for the methods it does not intercept.
type MockTB struct {
	testing.TB
	failed   bool
	FatalMsg string
}

// NewMockTB wraps t.
func NewMockTB(t testing.TB) *MockTB {
	return &MockTB{TB: t}
}

// Failed reports whether a fatal method was called.
func (f *MockTB) Failed() bool { return f.failed }

func (f *MockTB) Helper()                           {}
func (f *MockTB) Errorf(format string, args ...any) { f.failed = true }
func (f *MockTB) Fatalf(format string, args ...any) { f.stop(fmt.Sprintf(format, args...)) }
func (f *MockTB) Fatal(args ...any)                 { f.stop(fmt.Sprint(args...)) }
func (f *MockTB) FailNow()                          { f.stop("") }

func (f *MockTB) stop(msg string) {
	f.failed = true
	f.FatalMsg = msg
	panic(FatalSentinel{msg})
}

// ExpectFatal calls fn and recovers a MockTB fatal.
func ExpectFatal(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(FatalSentinel); !ok {
				panic(r)
			}
		}
	}()
	fn()
}
