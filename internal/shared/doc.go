// Package shared holds code used across packages that belongs to no single
// component.
//
// The testutil subpackage provides a buffered slog handler for asserting on
// log output and sales export fixtures for pipeline tests:
//
//	logger, logs := testutil.NewTestLogger(t)
//	path := testutil.WriteFile(t, dir, "sales.csv", testutil.SalesCSV("Downtown", "2024-03-01", 5))
package shared
