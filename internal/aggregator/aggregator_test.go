package aggregator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/akynaston/idmunit-connectors-sub001/internal/storage"
	"github.com/akynaston/idmunit-connectors-sub001/internal/storage/memory"
	"github.com/akynaston/idmunit-connectors-sub001/pkg/models"
	"go.uber.org/zap"
)

func newTestAggregator(t *testing.T, b storage.Backend, suffix string) *Aggregator {
	t.Helper()
	agg, err := New(context.Background(), b, suffix, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return agg
}

func mustPoll(t *testing.T, agg *Aggregator, want string) {
	t.Helper()
	got, err := agg.PollNewData(context.Background())
	if err != nil {
		t.Fatalf("PollNewData() error = %v", err)
	}
	if string(got) != want {
		t.Fatalf("PollNewData() = %q, want %q", got, want)
	}
}

func TestAggregator_ExampleScenario(t *testing.T) {
	b := memory.New()
	_ = b.Create("a.tmp", nil)
	agg := newTestAggregator(t, b, ".out")

	mustPoll(t, agg, "")

	_ = b.Append("a.tmp", []byte("row1\n"))
	mustPoll(t, agg, "row1\n")

	_ = b.Append("a.tmp", []byte("row2\n"))
	_ = b.Rename("a.tmp", "a.out")
	mustPoll(t, agg, "row2\n")

	if _, ok := agg.known["a.out"]; !ok {
		t.Error("a.out not in known names after rollover")
	}
	if agg.activeName != "" {
		t.Errorf("activeName = %q, want empty after rollover", agg.activeName)
	}

	b.Advance(time.Second)
	_ = b.Create("b.tmp", nil)
	mustPoll(t, agg, "")
	if agg.activeName != "b.tmp" {
		t.Errorf("activeName = %q, want b.tmp", agg.activeName)
	}

	_ = b.Append("b.tmp", []byte("row3\n"))
	mustPoll(t, agg, "row3\n")
}

func TestAggregator_BaselineSkip(t *testing.T) {
	b := memory.New()
	_ = b.Create("old.out", []byte("history\n"))
	_ = b.Create("cur.tmp", []byte("before\n"))
	agg := newTestAggregator(t, b, ".out")

	state := agg.State()
	if state.Known != 1 || state.ActiveName != "cur.tmp" || state.ActiveOffset != 7 {
		t.Fatalf("State() = %+v, want 1 known, active cur.tmp at 7", state)
	}

	mustPoll(t, agg, "")

	_ = b.Append("cur.tmp", []byte("after\n"))
	mustPoll(t, agg, "after\n")

	_ = b.Rename("cur.tmp", "cur.out")
	mustPoll(t, agg, "")
	mustPoll(t, agg, "")
}

func TestAggregator_IgnoresOtherSuffixes(t *testing.T) {
	b := memory.New()
	_ = b.Create("notes.txt", []byte("ignore me"))
	agg := newTestAggregator(t, b, ".out")

	b.Advance(time.Second)
	_ = b.Create("readme.md", []byte("also ignored"))
	_ = b.Create("a.out", []byte("data\n"))

	mustPoll(t, agg, "data\n")
	if agg.State().Known != 1 {
		t.Errorf("Known = %d, want 1", agg.State().Known)
	}
}

func TestAggregator_IdempotentEmptyPoll(t *testing.T) {
	b := memory.New()
	_ = b.Create("a.tmp", []byte("x"))
	agg := newTestAggregator(t, b, ".out")

	mustPoll(t, agg, "")
	mustPoll(t, agg, "")

	_ = b.Append("a.tmp", []byte("yz"))
	mustPoll(t, agg, "yz")
	mustPoll(t, agg, "")
	mustPoll(t, agg, "")
}

func TestAggregator_RolloverWithoutNewBytes(t *testing.T) {
	b := memory.New()
	_ = b.Create("a.tmp", nil)
	agg := newTestAggregator(t, b, ".out")

	_ = b.Append("a.tmp", []byte("abc"))
	mustPoll(t, agg, "abc")

	_ = b.Rename("a.tmp", "a.out")
	mustPoll(t, agg, "")

	state := agg.State()
	if state.ActiveName != "" || state.Known != 1 {
		t.Errorf("State() = %+v, want no active file and 1 known", state)
	}
}

func TestAggregator_RolloverThenNewerFiles(t *testing.T) {
	b := memory.New()
	_ = b.Create("a.tmp", nil)
	agg := newTestAggregator(t, b, ".out")

	_ = b.Append("a.tmp", []byte("a1\n"))
	mustPoll(t, agg, "a1\n")

	// Between polls: a rolls over; b is written and rolled; c is started
	_ = b.Append("a.tmp", []byte("a2\n"))
	_ = b.Rename("a.tmp", "a.out")
	b.Advance(time.Second)
	_ = b.Create("b.tmp", []byte("b1\n"))
	_ = b.Rename("b.tmp", "b.out")
	b.Advance(time.Second)
	_ = b.Create("c.tmp", []byte("c1\n"))
	b.Advance(time.Second)

	mustPoll(t, agg, "a2\nb1\nc1\n")
	if agg.activeName != "c.tmp" || agg.activeOffset != 3 {
		t.Errorf("active = %s@%d, want c.tmp@3", agg.activeName, agg.activeOffset)
	}
}

func TestAggregator_NewerFileWaitsForActive(t *testing.T) {
	b := memory.New()
	agg := newTestAggregator(t, b, ".out")

	b.Advance(time.Second)
	_ = b.Create("a.tmp", []byte("a1\n"))
	b.Advance(time.Second)
	_ = b.Create("b.out", []byte("b1\n"))

	// The walk stops at the new temp file; b.out is left for later
	mustPoll(t, agg, "a1\n")
	mustPoll(t, agg, "")

	_ = b.Rename("a.tmp", "a.out")
	mustPoll(t, agg, "b1\n")
	if state := agg.State(); state.Known != 2 || state.ActiveName != "" {
		t.Errorf("State() = %+v, want 2 known and no active file", state)
	}
}

func TestAggregator_ActiveWrittenAfterNewerFile(t *testing.T) {
	b := memory.New()
	agg := newTestAggregator(t, b, ".out")

	b.Advance(time.Second)
	_ = b.Create("a.tmp", []byte("a1\n"))
	b.Advance(time.Second)
	_ = b.Create("b.out", []byte("b1\n"))
	mustPoll(t, agg, "a1\n")

	// a.tmp is appended to after b.out was finished: two files were open
	b.Advance(time.Second)
	_ = b.Append("a.tmp", []byte("a2\n"))

	_, err := agg.PollNewData(context.Background())
	if !errors.Is(err, ErrContinuity) {
		t.Fatalf("PollNewData() error = %v, want ErrContinuity", err)
	}
}

func TestAggregator_TieBreaks(t *testing.T) {
	t.Run("Final before temp", func(t *testing.T) {
		b := memory.New()
		agg := newTestAggregator(t, b, ".out")

		_ = b.Create("b.tmp", []byte("temp\n"))
		_ = b.Create("z.out", []byte("final\n"))

		mustPoll(t, agg, "final\ntemp\n")
		if agg.activeName != "b.tmp" {
			t.Errorf("activeName = %q, want b.tmp", agg.activeName)
		}
	})

	t.Run("Name order among finals", func(t *testing.T) {
		b := memory.New()
		agg := newTestAggregator(t, b, ".out")

		_ = b.Create("b.out", []byte("b\n"))
		_ = b.Create("a.out", []byte("a\n"))
		_ = b.Create("c.out", []byte("c\n"))

		mustPoll(t, agg, "a\nb\nc\n")
	})

	t.Run("Active file first", func(t *testing.T) {
		b := memory.New()
		_ = b.Create("z.tmp", nil)
		agg := newTestAggregator(t, b, ".out")

		_ = b.Append("z.tmp", []byte("z1\n"))
		_ = b.Rename("z.tmp", "z.out")
		_ = b.Create("a.out", []byte("a1\n"))

		mustPoll(t, agg, "z1\na1\n")
	})
}

func TestAggregator_ContinuityViolations(t *testing.T) {
	tests := []struct {
		name  string
		setup func(b *memory.Backend)
	}{
		{
			name: "Older final file appears",
			setup: func(b *memory.Backend) {
				_ = b.Create("x.out", []byte("late\n"))
				_ = b.SetModTime("x.out", memory.Epoch.Add(-time.Hour))
			},
		},
		{
			name: "Older unrelated temp file appears",
			setup: func(b *memory.Backend) {
				_ = b.Create("x.tmp", []byte("other writer\n"))
				_ = b.SetModTime("x.tmp", memory.Epoch.Add(-time.Hour))
			},
		},
		{
			name: "Tracked file shrinks",
			setup: func(b *memory.Backend) {
				_ = b.Create("a.tmp", []byte("x"))
			},
		},
		{
			name: "Tracked file disappears",
			setup: func(b *memory.Backend) {
				_ = b.Remove("a.tmp")
			},
		},
		{
			name: "Tracked file renamed elsewhere",
			setup: func(b *memory.Backend) {
				_ = b.Rename("a.tmp", "a.bak")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := memory.New()
			_ = b.Create("a.tmp", []byte("abc"))
			agg := newTestAggregator(t, b, ".out")
			b.Advance(time.Second)
			_ = b.Append("a.tmp", []byte("def"))
			mustPoll(t, agg, "def")

			tt.setup(b)

			_, err := agg.PollNewData(context.Background())
			if !errors.Is(err, ErrContinuity) {
				t.Fatalf("PollNewData() error = %v, want ErrContinuity", err)
			}
			var cerr *ContinuityError
			if !errors.As(err, &cerr) || cerr.Expected != "a.tmp" {
				t.Errorf("ContinuityError = %+v, want Expected a.tmp", cerr)
			}

			// The instance stays broken
			_, again := agg.PollNewData(context.Background())
			if !errors.Is(again, ErrContinuity) {
				t.Errorf("second PollNewData() error = %v, want ErrContinuity", again)
			}
		})
	}
}

func TestAggregator_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		suffix string
		files  []string
	}{
		{"Empty suffix", "", nil},
		{"Suffix is temp suffix", ".tmp", nil},
		{"Suffix ends with temp suffix", ".csv.tmp", nil},
		{"Temp suffix ends with suffix", "mp", nil},
		{"Two temp files", ".out", []string{"a.tmp", "b.tmp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := memory.New()
			for _, f := range tt.files {
				_ = b.Create(f, nil)
			}
			_, err := New(context.Background(), b, tt.suffix, zap.NewNop())
			if !errors.Is(err, ErrConfig) {
				t.Errorf("New() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestAggregator_ListErrorAtConstruction(t *testing.T) {
	fb := &faultyBackend{Backend: memory.New(), listErr: errors.New("connection reset")}
	if _, err := New(context.Background(), fb, ".out", zap.NewNop()); err == nil {
		t.Fatal("New() expected error when listing fails, got nil")
	}
}

func TestAggregator_ReadErrorCommitsNothing(t *testing.T) {
	mem := memory.New()
	fb := &faultyBackend{Backend: mem}
	agg := newTestAggregator(t, fb, ".out")

	_ = mem.Create("a.out", []byte("first\n"))
	mem.Advance(time.Second)
	_ = mem.Create("b.tmp", []byte("second\n"))

	fb.failRead = map[string]bool{"b.tmp": true}
	_, err := agg.PollNewData(context.Background())
	if !errors.Is(err, storage.ErrRead) {
		t.Fatalf("PollNewData() error = %v, want storage.ErrRead", err)
	}
	if errors.Is(err, ErrContinuity) {
		t.Fatal("read error must not be reported as a continuity error")
	}
	if state := agg.State(); state.Known != 0 || state.ActiveName != "" {
		t.Fatalf("State() after read error = %+v, want nothing committed", state)
	}

	// Retry after the transient failure delivers both files exactly once
	fb.failRead = nil
	mustPoll(t, agg, "first\nsecond\n")
	mustPoll(t, agg, "")
}

func TestAggregator_ShortRead(t *testing.T) {
	mem := memory.New()
	fb := &faultyBackend{Backend: mem, truncate: 2}
	agg := newTestAggregator(t, fb, ".out")

	_ = mem.Create("a.out", []byte("abcdef"))

	_, err := agg.PollNewData(context.Background())
	var rerr *storage.ReadError
	if !errors.As(err, &rerr) {
		t.Fatalf("PollNewData() error = %v, want *storage.ReadError", err)
	}
	if rerr.Want != 6 || rerr.Got != 4 {
		t.Errorf("ReadError want/got = %d/%d, want 6/4", rerr.Want, rerr.Got)
	}
}

func TestAggregator_ReadsPastListedSize(t *testing.T) {
	mem := memory.New()
	_ = mem.Create("a.tmp", nil)
	fb := &faultyBackend{Backend: mem}
	agg := newTestAggregator(t, fb, ".out")

	// The writer appends between the listing and the read
	_ = mem.Append("a.tmp", []byte("ab"))
	fb.beforeRead = func() { _ = mem.Append("a.tmp", []byte("cd")) }
	mustPoll(t, agg, "abcd")

	fb.beforeRead = nil
	_ = mem.Append("a.tmp", []byte("ef"))
	mustPoll(t, agg, "ef")
}

// TestAggregator_NoDuplicationNoLoss drives a single writer through random
// sequences of creates, appends and rollovers and polls at random points.
// The concatenated poll results must equal everything written after
// construction, in order.
func TestAggregator_NoDuplicationNoLoss(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			b := memory.New()

			_ = b.Create("f000.out", []byte("history\n"))
			_ = b.Create("f001.tmp", []byte("pre-start\n"))
			current := "f001.tmp"
			next := 2

			agg := newTestAggregator(t, b, ".out")

			var written, delivered bytes.Buffer
			poll := func() {
				data, err := agg.PollNewData(context.Background())
				if err != nil {
					t.Fatalf("PollNewData() error = %v", err)
				}
				delivered.Write(data)
			}

			for step := 0; step < 200; step++ {
				b.Advance(time.Duration(1+rng.Intn(3)) * time.Second)
				switch op := rng.Intn(10); {
				case op < 5 && current != "":
					chunk := fmt.Sprintf("%s:%d\n", current, step)
					_ = b.Append(current, []byte(chunk))
					written.WriteString(chunk)
				case op < 7 && current != "":
					_ = b.Rename(current, current[:len(current)-len(TempSuffix)]+".out")
					current = ""
				case op < 8 && current == "":
					current = fmt.Sprintf("f%03d.tmp", next)
					next++
					chunk := fmt.Sprintf("%s:start\n", current)
					_ = b.Create(current, []byte(chunk))
					written.WriteString(chunk)
				}
				if rng.Intn(4) == 0 {
					poll()
				}
			}
			poll()

			if delivered.String() != written.String() {
				t.Fatalf("delivered stream differs from written stream\n got: %q\nwant: %q", delivered.String(), written.String())
			}
		})
	}
}

// faultyBackend wraps a backend and injects listing and read faults
type faultyBackend struct {
	storage.Backend
	listErr    error
	failRead   map[string]bool
	truncate   int
	beforeRead func()
}

func (f *faultyBackend) ListEntries(ctx context.Context) ([]models.FileSnapshot, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Backend.ListEntries(ctx)
}

func (f *faultyBackend) ReadTail(ctx context.Context, name string, skip uint64) ([]byte, error) {
	if f.failRead[name] {
		return nil, &storage.ReadError{Name: name, Offset: skip, Err: errors.New("deleted mid-read")}
	}
	if f.beforeRead != nil {
		f.beforeRead()
	}
	data, err := f.Backend.ReadTail(ctx, name, skip)
	if err != nil {
		return nil, err
	}
	if f.truncate > 0 && len(data) > f.truncate {
		data = data[:len(data)-f.truncate]
	}
	return data, nil
}
