// Package firestoretest starts a Firestore emulator container for integration tests.
package firestoretest

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/atelier-noir/api/internal/platform/config"
	pfirestore "github.com/atelier-noir/api/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

// NewProvider starts an emulator, waits for it to accept connections, and returns a
// provider bound to it. The test is skipped when docker is unavailable.
func NewProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	infoCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(infoCtx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("start firestore emulator: %v - %s", err, out)
	}
	containerID := strings.TrimSpace(string(out))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = exec.CommandContext(ctx, "docker", "stop", containerID).Run()
	})

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "test-project", EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close() })
	return provider
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			// The port opens slightly before the emulator serves requests.
			time.Sleep(time.Second)
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("emulator at %s did not become ready", endpoint)
}
