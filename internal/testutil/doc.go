// Package testutil provides shared test helpers and fixtures for permgate.
//
// Prefer a real SQLite database over mocks, and register cleanup via
// t.Cleanup so tests stay leak-free.
//
// Most packages start with:
//
//	database := testutil.NewTestDB(t)
//	d := testutil.MakeDecision(t, database, testutil.WithSubject("git status"))
package testutil
