package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/realtalk/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
providers:
  tts:
    name: openai
practice:
  pass_ratio: 0.7
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  tts:
    name: openai
practice:
  pass_ratio: 0.5
`

const watcherInvalidYAML = `
server:
  log_level: bananas
providers:
  tts:
    name: openai
`

// writeConfig writes content and pushes the mtime forward so filesystems
// with coarse timestamps still see a change.
func writeConfig(t *testing.T, path, content string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	mtime := time.Now().Add(age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

// newWatcher starts a watcher that never polls on its own; tests drive it
// with Check.
func newWatcher(t *testing.T, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "realtalk.yaml")
	writeConfig(t, path, watcherValidYAML, -time.Minute)
	w, err := config.NewWatcher(path, onChange, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := newWatcher(t, nil)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level = %q, want %q", got, config.LogInfo)
	}
	if w.Check() {
		t.Error("Check reported a change for an untouched file")
	}
}

func TestWatcher_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		content     string
		wantChange  bool
		wantCurrent config.LogLevel
	}{
		{"valid edit is adopted", watcherUpdatedYAML, true, config.LogDebug},
		{"invalid edit keeps the previous config", watcherInvalidYAML, false, config.LogInfo},
		{"touch without edit is ignored", watcherValidYAML, false, config.LogInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls int
			var gotOld, gotNew *config.Config
			w, path := newWatcher(t, func(old, new *config.Config) {
				calls++
				gotOld, gotNew = old, new
			})

			writeConfig(t, path, tt.content, 0)
			if got := w.Check(); got != tt.wantChange {
				t.Errorf("Check() = %v, want %v", got, tt.wantChange)
			}
			if got := w.Current().Server.LogLevel; got != tt.wantCurrent {
				t.Errorf("Current() log_level = %q, want %q", got, tt.wantCurrent)
			}

			if !tt.wantChange {
				if calls != 0 {
					t.Errorf("callback ran %d times, want 0", calls)
				}
				return
			}
			if calls != 1 {
				t.Fatalf("callback ran %d times, want 1", calls)
			}
			if gotOld.Server.LogLevel != config.LogInfo || gotNew.Practice.PassRatio != 0.5 {
				t.Errorf("callback got old=%q new pass_ratio=%v", gotOld.Server.LogLevel, gotNew.Practice.PassRatio)
			}
			if w.Check() {
				t.Error("second Check reported the same edit again")
			}
		})
	}
}

func TestWatcher_RecoversAfterInvalidEdit(t *testing.T) {
	t.Parallel()
	changed := make(chan *config.Config, 1)
	w, path := newWatcher(t, func(_, new *config.Config) { changed <- new })

	writeConfig(t, path, watcherInvalidYAML, -30*time.Second)
	if w.Check() {
		t.Fatal("invalid edit adopted")
	}
	writeConfig(t, path, watcherUpdatedYAML, 0)
	if !w.Check() {
		t.Fatal("valid edit after an invalid one not adopted")
	}
	if got := (<-changed).Server.LogLevel; got != config.LogDebug {
		t.Errorf("log_level = %q, want debug", got)
	}
}

func TestWatcher_PollsInBackground(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "realtalk.yaml")
	writeConfig(t, path, watcherValidYAML, -time.Minute)

	changed := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, func(_, _ *config.Config) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, watcherUpdatedYAML, 0)
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("edit not picked up by the polling loop")
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _ := newWatcher(t, nil)
	w.Stop()
	w.Stop()
}
