package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ayusman/hasta/internal/dispatch"
	"github.com/ayusman/hasta/internal/gesture"
	"github.com/ayusman/hasta/internal/homeassistant"
	"github.com/ayusman/hasta/internal/server"
)

type call struct {
	Domain, Service, EntityID string
}

// fakeActuator records calls and always succeeds.
type fakeActuator struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeActuator) CallService(_ context.Context, domain, service, entityID string, _ map[string]any) dispatch.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{domain, service, entityID})
	return dispatch.Outcome{Success: true, Message: "ok"}
}

func (f *fakeActuator) TestConnection(context.Context) bool { return true }

func (f *fakeActuator) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gesture_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func appConfig(historyPath string) string {
	return fmt.Sprintf(`homeassistant:
  mcp_url: http://ha.local:8123/mcp_server/sse
gesture_recognition:
  confidence_threshold: 0.8
  cooldown_seconds: 30
  min_hold_time: 0
  hold_idle_timeout: 0
history:
  enabled: true
  path: %s
gesture_mappings:
  - name: Toggle lights
    gesture: Open_Palm
    hand: Either
    action:
      entity_id: light.living_room
      service: toggle
`, historyPath)
}

func TestNew_RequiresConfigPath(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "gesture_recognition:\n  confidence_threshold: 3\n")
	_, err := New(Config{ConfigPath: path, Actuator: &fakeActuator{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence_threshold")
}

func TestNew_MissingToken(t *testing.T) {
	t.Setenv("HASTA_TEST_TOKEN", "")
	path := writeConfig(t, `homeassistant:
  mcp_url: http://ha.local:8123/mcp
  token_env_var: HASTA_TEST_TOKEN
history:
  enabled: false
`)
	_, err := New(Config{ConfigPath: path, Logger: zaptest.NewLogger(t)})
	assert.ErrorIs(t, err, homeassistant.ErrTokenNotSet)
}

func TestNew_HomeAssistantActuator(t *testing.T) {
	t.Setenv("HASTA_TEST_TOKEN", strings.Repeat("x", 200))
	path := writeConfig(t, `homeassistant:
  mcp_url: http://ha.local:8123/mcp
  token_env_var: HASTA_TEST_TOKEN
history:
  enabled: false
`)
	a, err := New(Config{ConfigPath: path, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	assert.NoError(t, a.Close())
}

func TestNew_PluginActuator(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}
	pluginDir := t.TempDir()
	dir := filepath.Join(pluginDir, "echo")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"),
		[]byte(`{"name":"echo","version":"1.0.0","executable":"run.sh"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"),
		[]byte("#!/bin/sh\ncat >/dev/null\necho '{\"success\":true}'\n"), 0755))

	path := writeConfig(t, fmt.Sprintf(`actuator:
  type: plugin
  plugin_dir: %s
  plugin: echo
  timeout_ms: 5000
gesture_recognition:
  min_hold_time: 0
history:
  enabled: false
gesture_mappings:
  - name: Play
    gesture: Victory
    hand: Right
    action:
      entity_id: media_player.desk
      service: media_play_pause
`, pluginDir))

	a, err := New(Config{ConfigPath: path, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer a.Close()

	ev := gesture.Event{Gesture: "Victory", Hand: gesture.HandRight, Confidence: 0.9}
	_, err = a.Pipeline().ProcessGesture(context.Background(), ev)
	require.NoError(t, err)
	res, err := a.Pipeline().ProcessGesture(context.Background(), ev)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success, "result: %+v", res)
	assert.Equal(t, "media_player.desk - media_play_pause executed successfully", res.Message)
}

func TestApp_Run(t *testing.T) {
	logger := zaptest.NewLogger(t)
	actuator := &fakeActuator{}
	path := writeConfig(t, appConfig(filepath.Join(t.TempDir(), "history.db")))

	a, err := New(Config{
		ConfigPath: path,
		Logger:     logger,
		Actuator:   actuator,
		IngestAddr: "127.0.0.1:0",
		WebAddr:    "127.0.0.1:0",
	})
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.IngestAddr())
	require.NoError(t, a.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	web := "http://" + a.WebAddr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(web + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+a.WebAddr().String()+"/api/events", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool {
		resp, err := http.Get(web + "/api/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var status struct {
			Subscribers int `json:"subscribers"`
		}
		return json.NewDecoder(resp.Body).Decode(&status) == nil && status.Subscribers == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn, err := net.Dial("tcp", a.IngestAddr().String())
	require.NoError(t, err)
	line := `{"timestamp":1700000000000,"hand":"left","gesture":"Open_Palm","confidence":0.95}` + "\n"
	_, err = conn.Write([]byte(line + line))
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool { return len(actuator.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, call{"light", "toggle", "light.living_room"}, actuator.Calls()[0])
	assert.Equal(t, uint64(2), a.Stats().Received)

	require.Eventually(t, func() bool {
		resp, err := http.Get(web + "/api/history")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var history struct {
			Total int `json:"total"`
		}
		return json.NewDecoder(resp.Body).Decode(&history) == nil && history.Total == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Reload())
	var types []string
	for len(types) < 4 {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg server.Message
		require.NoError(t, ws.ReadJSON(&msg))
		types = append(types, msg.Type)
	}
	assert.Equal(t, []string{
		server.EventGestureDetected,
		server.EventGestureDetected,
		server.EventActionResult,
		server.EventConfigUpdated,
	}, types)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, err = net.Dial("tcp", a.IngestAddr().String())
	assert.Error(t, err, "socket server should be closed")
}

func TestApp_ListenConflict(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	path := writeConfig(t, appConfig(filepath.Join(t.TempDir(), "history.db")))
	a, err := New(Config{
		ConfigPath: path,
		Actuator:   &fakeActuator{},
		IngestAddr: taken.Addr().String(),
		WebAddr:    "127.0.0.1:0",
	})
	require.NoError(t, err)
	defer a.Close()

	err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind socket server")
}

func TestHistoryPath(t *testing.T) {
	got, err := historyPath("/tmp/x.db")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", got)

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err = historyPath("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".hasta", "history.db"), got)
}

func TestLogObserver(t *testing.T) {
	obs := logObserver(zaptest.NewLogger(t))
	obs.OnGestureDetected(gesture.Event{Gesture: "Open_Palm", Hand: gesture.HandLeft, Confidence: 0.9})
	obs.OnActionResult(dispatch.Result{Success: true, Mapping: "a"})
	obs.OnActionResult(dispatch.Result{Error: "boom", Kind: dispatch.ErrorKindNetwork})
}
