package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// recorder keeps the messages that reach it. Handlers derived through
// WithAttrs append to the same list.
type recorder struct {
	mu   *sync.Mutex
	msgs *[]string
}

func newRecorder() recorder {
	return recorder{mu: &sync.Mutex{}, msgs: &[]string{}}
}

func (r recorder) Enabled(context.Context, slog.Level) bool { return true }

func (r recorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.msgs = append(*r.msgs, rec.Message)
	return nil
}

func (r recorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r recorder) WithGroup(string) slog.Handler      { return r }

func (r recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), *r.msgs...)
}

func TestDefault(t *testing.T) {
	if Default(nil).Enabled(context.Background(), slog.LevelError) {
		t.Error("Default(nil) should discard everything")
	}
	Discard().Error("dropped")

	own := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if Default(own) != own {
		t.Error("Default should pass a non-nil logger through")
	}
}

func TestComponentFilter(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *ComponentFilterHandler) *slog.Logger
		log   func(l *slog.Logger)
		want  []string
	}{
		{
			name:  "default level applies without a component",
			setup: func(f *ComponentFilterHandler) *slog.Logger { return slog.New(f) },
			log: func(l *slog.Logger) {
				l.Debug("d")
				l.Info("i")
				l.Warn("w")
			},
			want: []string{"i", "w"},
		},
		{
			name: "override lowers one component only",
			setup: func(f *ComponentFilterHandler) *slog.Logger {
				f.SetLevel("catalog", slog.LevelDebug)
				return slog.New(f)
			},
			log: func(l *slog.Logger) {
				l.Debug("catalog", "component", "catalog")
				l.Debug("resolver", "component", "resolver")
			},
			want: []string{"catalog"},
		},
		{
			name: "override raises one component",
			setup: func(f *ComponentFilterHandler) *slog.Logger {
				f.SetLevel("autotag", slog.LevelError)
				return slog.New(f).With("component", "autotag")
			},
			log: func(l *slog.Logger) {
				l.Warn("w")
				l.Error("e")
			},
			want: []string{"e"},
		},
		{
			name: "cleared override falls back to default",
			setup: func(f *ComponentFilterHandler) *slog.Logger {
				f.SetLevel("tags", slog.LevelDebug)
				f.ClearLevel("tags")
				f.ClearLevel("never-set")
				return slog.New(f).With("component", "tags")
			},
			log:  func(l *slog.Logger) { l.Debug("d"); l.Info("i") },
			want: []string{"i"},
		},
		{
			name: "component bound before the override still sees it",
			setup: func(f *ComponentFilterHandler) *slog.Logger {
				l := slog.New(f).With("component", "sqlite")
				f.SetLevel("sqlite", slog.LevelDebug)
				return l
			},
			log:  func(l *slog.Logger) { l.Debug("d") },
			want: []string{"d"},
		},
		{
			name: "groups keep filtering",
			setup: func(f *ComponentFilterHandler) *slog.Logger {
				return slog.New(f.WithGroup("req"))
			},
			log:  func(l *slog.Logger) { l.Debug("d", "component", "x"); l.Info("i", "component", "x") },
			want: []string{"i"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			tt.log(tt.setup(NewComponentFilterHandler(rec, slog.LevelInfo)))
			if got := rec.messages(); strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestLevelLookup(t *testing.T) {
	f := NewComponentFilterHandler(newRecorder(), slog.LevelWarn)
	f.SetLevel("catalog", slog.LevelDebug)

	if got := f.Level("catalog"); got != slog.LevelDebug {
		t.Errorf("Level(catalog): expected DEBUG, got %v", got)
	}
	if got := f.Level("other"); got != slog.LevelWarn {
		t.Errorf("Level(other): expected WARN, got %v", got)
	}
	if got := f.DefaultLevel(); got != slog.LevelWarn {
		t.Errorf("DefaultLevel: expected WARN, got %v", got)
	}
}

func TestEnabledUsesLowestLevel(t *testing.T) {
	ctx := context.Background()
	f := NewComponentFilterHandler(newRecorder(), slog.LevelWarn)

	if f.Enabled(ctx, slog.LevelInfo) {
		t.Error("info enabled with warn default and no overrides")
	}
	f.SetLevel("catalog", slog.LevelDebug)
	if !f.Enabled(ctx, slog.LevelDebug) {
		t.Error("unbound handler must admit debug once any component allows it")
	}

	bound := f.WithAttrs([]slog.Attr{slog.String("component", "tags")})
	if bound.Enabled(ctx, slog.LevelInfo) {
		t.Error("handler bound to tags should use the tags level")
	}
}

func TestConcurrentLevelChanges(t *testing.T) {
	rec := newRecorder()
	f := NewComponentFilterHandler(rec, slog.LevelInfo)
	logger := slog.New(f).With("component", "resolver")

	const workers, n = 8, 50
	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			for range n {
				logger.Info("m")
			}
		})
		wg.Go(func() {
			for range n {
				f.SetLevel("resolver", slog.LevelDebug)
				f.ClearLevel("resolver")
			}
		})
	}
	wg.Wait()

	if got := len(rec.messages()); got != workers*n {
		t.Errorf("expected %d records, got %d", workers*n, got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestParseComponentLevels(t *testing.T) {
	levels, err := ParseComponentLevels(" catalog = debug, tags=error,,")
	if err != nil {
		t.Fatalf("ParseComponentLevels: %v", err)
	}
	if len(levels) != 2 || levels["catalog"] != slog.LevelDebug || levels["tags"] != slog.LevelError {
		t.Errorf("unexpected levels: %v", levels)
	}

	if levels, err := ParseComponentLevels(""); err != nil || len(levels) != 0 {
		t.Errorf("empty input: expected no levels, got %v (err %v)", levels, err)
	}

	tests := []struct {
		in      string
		wantMsg string
	}{
		{"catalog", "expected component=level"},
		{"=debug", "expected component=level"},
		{"  =info", "expected component=level"},
		{"catalog=loud", "component catalog"},
		{"catalog=", "component catalog"},
		{"tags=info,resolver=verbose", "component resolver"},
	}
	for _, tt := range tests {
		_, err := ParseComponentLevels(tt.in)
		if err == nil {
			t.Errorf("%q: expected error", tt.in)
			continue
		}
		if !strings.Contains(err.Error(), tt.wantMsg) {
			t.Errorf("%q: error %q does not mention %q", tt.in, err, tt.wantMsg)
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger, filter, err := New(&buf, "JSON", "warn")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		logger.Info("hidden", "component", "catalog")
		filter.SetLevel("catalog", slog.LevelInfo)
		logger.Info("shown", "component", "catalog", "subdetector", "DET1")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 1 {
			t.Fatalf("expected one record, got %d: %s", len(lines), buf.String())
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
			t.Fatalf("record is not JSON: %v: %s", err, lines[0])
		}
		for key, want := range map[string]string{
			"msg": "shown", "level": "INFO", "component": "catalog", "subdetector": "DET1",
		} {
			if rec[key] != want {
				t.Errorf("%s: expected %q, got %v", key, want, rec[key])
			}
		}
	})

	t.Run("text", func(t *testing.T) {
		for _, format := range []string{"text", ""} {
			var buf bytes.Buffer
			logger, filter, err := New(&buf, format, "debug")
			if err != nil {
				t.Fatalf("New(%q): %v", format, err)
			}
			if filter.DefaultLevel() != slog.LevelDebug {
				t.Errorf("New(%q): default level %v", format, filter.DefaultLevel())
			}
			logger.Debug("hello")
			if !strings.Contains(buf.String(), "msg=hello") {
				t.Errorf("New(%q): expected text record, got: %s", format, buf.String())
			}
		}
	})

	t.Run("invalid", func(t *testing.T) {
		if _, _, err := New(&bytes.Buffer{}, "xml", "info"); err == nil {
			t.Error("expected error for unknown format")
		}
		if _, _, err := New(&bytes.Buffer{}, "text", "loud"); err == nil {
			t.Error("expected error for unknown level")
		}
	})
}
