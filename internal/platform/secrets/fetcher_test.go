package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values: map[string]string{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (c *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if err, ok := c.errs[req.GetName()]; ok {
		return nil, err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (c *fakeSecretClient) Close() error { return nil }

func (c *fakeSecretClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/atelier/secrets/psp-callback/versions/latest"
	client.values[resource] = "remote-secret"

	fetcher, err := NewFetcher(ctx, withClient(client), WithProject("atelier"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://psp-callback")
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if got != "remote-secret" {
			t.Fatalf("expected remote-secret, got %s", got)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}
}

func TestResolveHonoursProjectAndVersionOverrides(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/other/secrets/stripe/versions/3"] = "pinned"

	fetcher, err := NewFetcher(ctx, withClient(client), WithProject("atelier"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	got, err := fetcher.ResolveSecret(ctx, "sm://stripe?project=other&version=3")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if got != "pinned" {
		t.Fatalf("expected pinned, got %s", got)
	}
}

func TestResolveFallsBackWhenSecretManagerDenies(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	content := "# local\nsecret://referral-key=local-key\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	client := newFakeSecretClient()
	client.errs["projects/atelier/secrets/referral-key/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx, withClient(client), WithProject("atelier"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	got, err := fetcher.Resolve(ctx, "secret://referral-key")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "local-key" {
		t.Fatalf("expected local-key, got %s", got)
	}
}

func TestResolveSurfacesNonFallbackErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errs["projects/atelier/secrets/broken/versions/latest"] = status.Error(codes.InvalidArgument, "bad")

	fetcher, err := NewFetcher(ctx, withClient(client), WithProject("atelier"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	if _, err := fetcher.Resolve(ctx, "secret://broken"); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument error, got %v", err)
	}
}

func TestResolveWithoutProjectUsesFallbackOnly(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()

	fetcher, err := NewFetcher(ctx, withClient(client), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	if _, err := fetcher.Resolve(ctx, "secret://anything"); err == nil {
		t.Fatalf("expected error for unresolvable secret")
	}
	if calls := client.callCount("projects//secrets/anything/versions/latest"); calls != 0 {
		t.Fatalf("expected no remote calls, got %d", calls)
	}
}

func TestParseReferenceRejectsInvalidInput(t *testing.T) {
	for _, ref := range []string{"", "https://example.com/x", "secret://"} {
		if _, err := parseReference(ref); err == nil {
			t.Errorf("expected error for %q", ref)
		}
	}
}
