package testutil

import (
	"os"
	"testing"
)

var testDatabase = os.Getenv("CRAWLER_TEST_DB")

// DatabaseAvailable reports whether a database is available for testing
func DatabaseAvailable() bool {
	return testDatabase != ""
}

// Database returns the connection string for connecting to the test database
func Database() string {
	return testDatabase
}

// SkipWithoutDatabase skips tb when testing in short mode or when no test database has been configured.
func SkipWithoutDatabase(tb testing.TB) {
	tb.Helper()
	if testing.Short() || !DatabaseAvailable() {
		tb.Skip("short testing requested or CRAWLER_TEST_DB not set")
	}
}
