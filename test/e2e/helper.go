package e2e

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/asakaida/restree/internal/app"
	"github.com/asakaida/restree/internal/bootstrap"
	"github.com/asakaida/restree/internal/handlers"
	"github.com/asakaida/restree/internal/infrastructure/config"
	"github.com/asakaida/restree/internal/infrastructure/database"
	"github.com/asakaida/restree/internal/infrastructure/logging"
)

const bufSize = 1024 * 1024

// E2ETestServer is one worker: an App on the shared test database served over bufconn
type E2ETestServer struct {
	App      *app.App
	Server   *grpc.Server
	Client   *handlers.Client
	Conn     *grpc.ClientConn
	Listener *bufconn.Listener
}

// LoadConfig returns the test configuration or skips the test when no
// database is configured or reachable. Migrations are applied and every
// table is emptied.
func LoadConfig(t *testing.T) *config.Config {
	t.Helper()

	if err := config.InitConfig("test"); err != nil {
		t.Fatalf("failed to init config: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Skipf("Skipping e2e test: %v", err)
	}
	cfg.Store.Driver = config.StoreDriverPostgres
	cfg.Cache.Enabled = true
	cfg.Cache.Backend = config.CacheBackendMemory
	cfg.Cache.Notify = true

	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		t.Skipf("Skipping e2e test: %v", err)
	}
	defer pg.Close()

	projectRoot, err := findProjectRoot()
	if err != nil {
		t.Fatalf("failed to find project root: %v", err)
	}
	if err := pg.RunMigrations(filepath.Join(projectRoot, "internal/infrastructure/database/migrations/postgres")); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	cleanupDatabase(t, pg)
	return cfg
}

// StartWorker assembles an App with the invalidation listener running and
// serves it over an in-memory connection
func StartWorker(t *testing.T, cfg *config.Config) *E2ETestServer {
	t.Helper()

	a, err := app.New(context.Background(), cfg, logging.Discard(), app.Options{Listen: true})
	if err != nil {
		t.Fatalf("failed to build app: %v", err)
	}

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer(grpc.UnaryInterceptor(logging.UnaryServerInterceptor(a.Logger)))
	handlers.RegisterResourceTreeServer(server, handlers.NewResourceTreeHandler(a.Tree, a.Resolver, a.Decider, a.Principal, a.Regions))
	go func() {
		if err := server.Serve(listener); err != nil {
			t.Logf("server error: %v", err)
		}
	}()

	conn, err := grpc.NewClient(
		"passthrough://bufconn",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return listener.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to create client connection: %v", err)
	}

	e := &E2ETestServer{
		App:      a,
		Server:   server,
		Client:   handlers.NewClient(conn),
		Conn:     conn,
		Listener: listener,
	}
	t.Cleanup(func() { e.Teardown(t) })
	return e
}

// Seed applies the default seed through this worker
func (e *E2ETestServer) Seed(t *testing.T) {
	t.Helper()
	if err := bootstrap.Apply(context.Background(), e.App.BootstrapDeps(), bootstrap.DefaultSeed()); err != nil {
		t.Fatalf("failed to apply seed: %v", err)
	}
}

// Call invokes a method and fails the test on error
func (e *E2ETestServer) Call(t *testing.T, method string, fields map[string]interface{}) map[string]interface{} {
	t.Helper()
	resp, err := e.TryCall(method, fields)
	if err != nil {
		t.Fatalf("%s failed: %v", method, err)
	}
	return resp
}

// TryCall invokes a method and returns its error
func (e *E2ETestServer) TryCall(method string, fields map[string]interface{}) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := e.Client.Call(ctx, method, fields)
	if err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

// Teardown stops the server and releases the App
func (e *E2ETestServer) Teardown(t *testing.T) {
	t.Helper()

	if e.Conn != nil {
		e.Conn.Close()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
	if e.Listener != nil {
		e.Listener.Close()
	}
	if e.App != nil {
		if err := e.App.Close(); err != nil {
			t.Logf("warning: failed to close app: %v", err)
		}
		e.App = nil
	}
}

// cleanupDatabase removes all data from the test database
func cleanupDatabase(t *testing.T, pg *database.Postgres) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Children before parents
	tables := []string{"resource_acl", "resource_tree", "permission_tree", "group_member", "groups", "users"}
	for _, table := range tables {
		if _, err := pg.DB.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			t.Logf("warning: failed to clean up table %s: %v", table, err)
		}
	}
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	// Walk up the directory tree until we find go.mod
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
