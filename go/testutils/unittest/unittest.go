package unittest

import (
	"flag"
	"os"

	"github.com/eocis-portal/data-manager/go/sktest"
)

const (
	SMALL_TEST = "small"
	LARGE_TEST = "large"

	// PostgresEnvVar is the environment variable which must point at a
	// running PostgreSQL instance (host:port) for large tests to run.
	PostgresEnvVar = "POSTGRES_EMULATOR_HOST"
)

var (
	small = flag.Bool(SMALL_TEST, false, "Whether or not to run small tests.")
	large = flag.Bool(LARGE_TEST, false, "Whether or not to run large tests.")

	// DEFAULT_RUN indicates whether the given test type runs by default
	// when no filter flag is specified.
	DEFAULT_RUN = map[string]bool{
		SMALL_TEST: true,
		LARGE_TEST: true,
	}
)

// ShouldRun determines whether the test should run based on the provided
// flags.
func ShouldRun(testType string) bool {
	// Fallback if no test filter is specified.
	if !*small && !*large {
		return DEFAULT_RUN[testType]
	}

	switch testType {
	case SMALL_TEST:
		return *small
	case LARGE_TEST:
		return *large
	}
	return false
}

// SmallTest is a function which should be called at the beginning of a small
// test: A test (under 2 seconds) with no dependencies on external databases,
// networks, etc.
func SmallTest(t sktest.TestingT) {
	if !ShouldRun(SMALL_TEST) {
		t.Skip("Not running small tests.")
	}
}

// LargeTest is a function which should be called at the beginning of a large
// test: a test with significant reliance on external dependencies, e.g. a
// running database.
func LargeTest(t sktest.TestingT) {
	if !ShouldRun(LARGE_TEST) {
		t.Skip("Not running large tests.")
	}
}

// RequiresPostgresDB documents that a test requires a local running
// PostgreSQL instance and checks that the appropriate environment variable
// is set.
func RequiresPostgresDB(t sktest.TestingT) {
	LargeTest(t)
	if os.Getenv(PostgresEnvVar) == "" {
		t.Skip(`This test requires a local PostgreSQL instance, e.g.

    docker run -d -p 5432:5432 -e POSTGRES_HOST_AUTH_METHOD=trust postgres:15

and then:

    export ` + PostgresEnvVar + `=localhost:5432
`)
	}
}

// PostgresHost returns the host:port of the test PostgreSQL instance.
func PostgresHost() string {
	return os.Getenv(PostgresEnvVar)
}
