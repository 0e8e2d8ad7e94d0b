// Package testutil provides shared test environment helpers for E2E tests.
package testutil

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvE2EPostgresDSN names the Postgres database the E2E suite syncs through.
const EnvE2EPostgresDSN = "LEDGERSYNC_E2E_POSTGRES_DSN"

// LoadDotEnv loads envPath into the environment. A missing file is not an
// error (CI sets env vars directly). Existing env vars take precedence.
func LoadDotEnv(envPath string) {
	_ = godotenv.Load(envPath)
}

// ValidateTestDSN crashes the process unless dsn names a database whose
// name ends in "_test", so the suite can never write to a real ledger.
func ValidateTestDSN(dsn string) {
	u, err := url.Parse(dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s is not a URL: %v\n", EnvE2EPostgresDSN, err)
		os.Exit(1)
	}

	name := strings.TrimPrefix(u.Path, "/")
	if !strings.HasSuffix(name, "_test") {
		fmt.Fprintf(os.Stderr, "FATAL: %s database %q must end in _test\n", EnvE2EPostgresDSN, name)
		fmt.Fprintln(os.Stderr, "Example: postgres://localhost:5432/ledgersync_test")
		os.Exit(1)
	}
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}
