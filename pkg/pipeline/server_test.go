package pipeline

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevServerServesFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "index.html", "<h1>Hello</h1>")

	ts := httptest.NewServer(NewDevServer("127.0.0.1:0", root).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/index.html")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "<h1>Hello</h1>", string(body))

	resp, err = http.Get(ts.URL + ReloadScriptPath)
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), ReloadPath)
}

func TestDevServerReloadNotifiesSubscribers(t *testing.T) {
	server := NewDevServer("127.0.0.1:0", t.TempDir())
	assert.Equal(t, 0, server.Reload())

	ch, unsubscribe := server.Subscribe()
	assert.Equal(t, 1, server.Reload())
	assert.Equal(t, 1, server.Reload())

	select {
	case <-ch:
	default:
		t.Fatal("expected a reload notification")
	}

	unsubscribe()
	assert.Equal(t, 0, server.Reload())
	require.NoError(t, ReloadTask(server)(context.Background()))
}

func TestDevServerReloadFeed(t *testing.T) {
	server := NewDevServer("127.0.0.1:0", t.TempDir())
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + ReloadPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.Eventually(t, func() bool {
		return server.Reload() > 0
	}, 5*time.Second, 10*time.Millisecond)

	for line != "event: reload\n" {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
	}
}

func TestDevServerStopsOnCancel(t *testing.T) {
	server := NewDevServer("127.0.0.1:0", t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
