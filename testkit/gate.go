package testkit

import (
	"os"
	"strings"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// IntegrationEnv gates tests that need a real broker container.
const IntegrationEnv = "REMINDER_INTEGRATION_TESTS"

// RequireIntegration skips the test unless IntegrationEnv is truthy.
func RequireIntegration(t testing.TB) {
	t.Helper()

	if integrationEnabled(os.Getenv(IntegrationEnv)) {
		return
	}
	t.Skipf("skipping broker integration test; set %s=1 to run", IntegrationEnv)
}

func integrationEnabled(value string) bool {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// requireDocker skips when no docker daemon can be reached. The provider
// panics on some hosts without a socket, so that is a skip too.
func requireDocker(t testing.TB) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("docker is not available: %v", r)
		}
	}()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	_ = provider.Close()
}
