// Package testutil provides test helpers for recoverybot tests.
//
//   - assert.go: assertion helpers (MustNoErr, AssertKind, AssertContainsAll)
//   - store_helpers.go: database setup (NewTestStore, SeedCredential)
//   - ptr: pointer helpers for optional fields
//   - tbmock: a testing.TB double for checking fail-fast helpers
package testutil
