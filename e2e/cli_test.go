package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/outlier/internal/api"
	"github.com/mcoot/outlier/internal/api/response"
	"github.com/mcoot/outlier/internal/factory"
)

// cliRunner manages CLI binary execution for one player
type cliRunner struct {
	binaryPath string
	serverURL  string
	stateFile  string
}

func newCLIRunner(t *testing.T, serverURL string) *cliRunner {
	t.Helper()

	// Find project root (where go.mod is)
	projectRoot := findProjectRoot(t)

	// Build the CLI binary
	binaryPath := filepath.Join(t.TempDir(), "outlier-test")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/outlier")
	cmd.Dir = projectRoot
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "failed to build CLI: %s", string(output))

	return &cliRunner{
		binaryPath: binaryPath,
		serverURL:  serverURL,
		stateFile:  filepath.Join(t.TempDir(), "state.db"),
	}
}

// player returns a runner sharing the binary but with its own state file
func (r *cliRunner) player(t *testing.T) *cliRunner {
	return &cliRunner{
		binaryPath: r.binaryPath,
		serverURL:  r.serverURL,
		stateFile:  filepath.Join(t.TempDir(), "state.db"),
	}
}

func (r *cliRunner) command(args ...string) *exec.Cmd {
	fullArgs := append([]string{
		"--server", r.serverURL,
		"--state-file", r.stateFile,
		"--output", "json",
	}, args...)
	return exec.Command(r.binaryPath, fullArgs...)
}

// run returns stdout; stderr only appears in the error
func (r *cliRunner) run(args ...string) (string, error) {
	cmd := r.command(args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return string(output) + stderr.String(), err
	}
	return string(output), nil
}

func findProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// testServer manages a real HTTP server for e2e tests
type testServer struct {
	addr     string
	shutdown func()
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	app, err := factory.New(context.Background(), factory.Config{Logger: logger})
	require.NoError(t, err)

	router := api.NewRouter(api.RouterConfig{
		Logger:            logger,
		SessionController: app.SessionController,
		Categories:        app.Categories,
		HubManager:        app.HubManager,
	})

	serverConfig := api.DefaultServerConfig()
	serverConfig.ShutdownTimeout = 5 * time.Second
	server := api.NewServer(router, serverConfig, logger)
	server.OnShutdown(app.HubManager.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()

	serverURL := "http://" + listener.Addr().String()
	waitForServer(t, serverURL+"/api/v1/health")

	return &testServer{
		addr: serverURL,
		shutdown: func() {
			cancel()
			if err := <-done; err != nil {
				t.Logf("server error: %v", err)
			}
			_ = app.Close()
		},
	}
}

func waitForServer(t *testing.T, url string) {
	t.Helper()

	client := &http.Client{Timeout: 100 * time.Millisecond}
	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatal("server did not become ready in time")
}

type messageResponse struct {
	Message string `json:"message"`
}

func decode[T any](t *testing.T, output string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(output), &v), "output: %s", output)
	return v
}

// Tests

func TestCLI_HealthCheck(t *testing.T) {
	ts := startTestServer(t)
	defer ts.shutdown()

	cli := newCLIRunner(t, ts.addr)

	output, err := cli.run("health")
	require.NoError(t, err, "output: %s", output)
	assert.Equal(t, "ok", decode[response.Health](t, output).Status)
}

func TestCLI_Categories(t *testing.T) {
	ts := startTestServer(t)
	defer ts.shutdown()

	cli := newCLIRunner(t, ts.addr)

	output, err := cli.run("categories", "list")
	require.NoError(t, err, "output: %s", output)
	assert.Contains(t, decode[response.CategoryList](t, output).Categories, "Animals")

	output, err = cli.run("categories", "show", "Weather")
	require.NoError(t, err, "output: %s", output)
	assert.Contains(t, decode[response.Category](t, output).Words, "Rainbow")

	// No generator configured
	_, err = cli.run("categories", "generate", "space")
	assert.Error(t, err)
}

func TestCLI_FullRound(t *testing.T) {
	ts := startTestServer(t)
	defer ts.shutdown()

	alice := newCLIRunner(t, ts.addr)
	bob := alice.player(t)
	carol := alice.player(t)

	// Alice hosts
	output, err := alice.run("create", "Alice")
	require.NoError(t, err, "output: %s", output)
	created := decode[response.JoinResponse](t, output)
	assert.Equal(t, "waiting", created.Session.Status)
	code := created.Session.JoinCode

	// Starting alone is refused
	_, err = alice.run("start")
	assert.Error(t, err)

	output, err = bob.run("join", code, "Bob")
	require.NoError(t, err, "output: %s", output)
	bobID := decode[response.JoinResponse](t, output).ParticipantID

	output, err = carol.run("join", code, "Carol")
	require.NoError(t, err, "output: %s", output)

	// Only the host starts
	_, err = bob.run("start")
	assert.Error(t, err)

	output, err = alice.run("start", "--category", "Animals")
	require.NoError(t, err, "output: %s", output)
	assert.Equal(t, "playing", decode[response.Session](t, output).Status)

	// Exactly one player is the outlier and misses the word
	outliers := 0
	for _, p := range []*cliRunner{alice, bob, carol} {
		output, err := p.run("status")
		require.NoError(t, err, "output: %s", output)
		view := decode[response.Session](t, output)
		require.NotNil(t, view.Round)
		assert.Equal(t, "Animals", view.Round.CategoryName)

		var self *response.Participant
		for i := range view.Participants {
			if view.Participants[i].IsOutlier != nil {
				require.Nil(t, self, "is_outlier shown on more than one entry")
				self = &view.Participants[i]
			}
		}
		require.NotNil(t, self)
		if *self.IsOutlier {
			outliers++
			assert.Empty(t, view.Round.SecretWord)
		} else {
			assert.NotEmpty(t, view.Round.SecretWord)
		}
	}
	assert.Equal(t, 1, outliers)

	// Back to the waiting room
	output, err = alice.run("restart")
	require.NoError(t, err, "output: %s", output)
	restarted := decode[response.Session](t, output)
	assert.Equal(t, "waiting", restarted.Status)
	assert.Nil(t, restarted.Round)

	// Bob is kicked by name; his saved identity is dropped on next use
	output, err = alice.run("kick", "bob")
	require.NoError(t, err, "output: %s", output)
	for _, p := range decode[response.Session](t, output).Participants {
		assert.NotEqual(t, bobID, p.ID)
	}
	_, err = bob.run("status")
	assert.Error(t, err)

	// Carol leaves and cannot act afterwards
	output, err = carol.run("leave")
	require.NoError(t, err, "output: %s", output)
	assert.Contains(t, decode[messageResponse](t, output).Message, "Left session")
	_, err = carol.run("ready")
	assert.Error(t, err)

	output, err = alice.run("status")
	require.NoError(t, err, "output: %s", output)
	assert.Len(t, decode[response.Session](t, output).Participants, 1)
}

func TestCLI_WatchSeesRemoval(t *testing.T) {
	ts := startTestServer(t)
	defer ts.shutdown()

	alice := newCLIRunner(t, ts.addr)
	bob := alice.player(t)

	output, err := alice.run("create", "Alice")
	require.NoError(t, err, "output: %s", output)
	code := decode[response.JoinResponse](t, output).Session.JoinCode

	output, err = bob.run("join", code, "Bob")
	require.NoError(t, err, "output: %s", output)

	watch := bob.command("watch")
	var watchOut bytes.Buffer
	watch.Stdout = &watchOut
	require.NoError(t, watch.Start())

	done := make(chan error, 1)
	go func() { done <- watch.Wait() }()

	// Give the watcher time to attach before it is kicked
	time.Sleep(500 * time.Millisecond)
	output, err = alice.run("kick", "Bob")
	require.NoError(t, err, "output: %s", output)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		_ = watch.Process.Kill()
		t.Fatal("watch did not exit after removal")
	}
	assert.Contains(t, watchOut.String(), "no longer in this session")
}
