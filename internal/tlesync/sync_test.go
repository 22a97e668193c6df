package tlesync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/across/model"
	"github.com/signalsfoundry/across/timectrl"
)

const issLine1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
const issLine2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"

var celestrak = strings.Join([]string{
	"ISS (ZARYA)             ",
	issLine1,
	issLine2,
	"BROKEN",
	"1 00001U short",
	"2 00001 short",
	"",
}, "\r\n")

func TestParse(t *testing.T) {
	t.Parallel()
	tles, rejected, err := Parse(strings.NewReader(celestrak))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tles) != 1 || len(rejected) != 1 {
		t.Fatalf("Parse = %d sets, %d rejected; want 1, 1", len(tles), len(rejected))
	}
	got := tles[0]
	if got.NoradID != 25544 || got.SatelliteName != "ISS (ZARYA)" {
		t.Errorf("tle = %+v", got)
	}
	want := time.Date(2008, time.September, 20, 12, 25, 40, 104192000, time.UTC)
	if d := got.Epoch.Sub(want); d < -time.Millisecond || d > time.Millisecond {
		t.Errorf("Epoch = %v, want %v", got.Epoch, want)
	}
	if got.Line1 != issLine1 || got.Line2 != issLine2 {
		t.Errorf("lines not preserved")
	}
}

func TestParseUnnamed(t *testing.T) {
	t.Parallel()
	tles, _, err := Parse(strings.NewReader(issLine1 + "\n" + issLine2 + "\n"))
	if err != nil || len(tles) != 1 {
		t.Fatalf("Parse = %v, %v", tles, err)
	}
	if tles[0].SatelliteName != "25544" {
		t.Errorf("SatelliteName = %q, want the NORAD id", tles[0].SatelliteName)
	}
}

func TestParseEpoch(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want time.Time
	}{
		{"24001.50000000", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"57001.00000000", time.Date(1957, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"56366.00000000", time.Date(2056, 12, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseEpoch(tt.in)
		if err != nil {
			t.Errorf("parseEpoch(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseEpoch(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := parseEpoch("24000.5"); err == nil {
		t.Errorf("day zero accepted")
	}
}

type fakeStore struct {
	mu   sync.Mutex
	got  []model.TLE
	err  error
	rows int
}

func (f *fakeStore) UpsertTLEs(_ context.Context, tles []model.TLE) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.got = append(f.got, tles...)
	return f.rows, nil
}

type syncRecorder struct {
	outcomes []string
	upserted int
	at       time.Time
}

func (r *syncRecorder) ObserveTLESync(outcome string, upserted int, at time.Time) {
	r.outcomes = append(r.outcomes, outcome)
	r.upserted += upserted
	r.at = at
}

func TestSync(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(celestrak))
	}))
	defer srv.Close()

	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: 1}
	rec := &syncRecorder{}
	s := New(store, srv.Client(), srv.URL, nil, WithMetricsRecorder(rec), WithClock(timectrl.NewManual(now)))

	n, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if n != 1 || len(store.got) != 1 {
		t.Errorf("Sync = %d, stored %d; want 1, 1", n, len(store.got))
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != "ok" || rec.upserted != 1 || !rec.at.Equal(now) {
		t.Errorf("metrics = %+v", rec)
	}
}

func TestSyncFailures(t *testing.T) {
	t.Parallel()
	boom := errors.New("database down")
	tests := []struct {
		name    string
		status  int
		body    string
		storeEr error
	}{
		{"bad status", http.StatusBadGateway, "", nil},
		{"empty body", http.StatusOK, "nothing here\n", nil},
		{"store error", http.StatusOK, celestrak, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			rec := &syncRecorder{}
			s := New(&fakeStore{err: tt.storeEr}, srv.Client(), srv.URL, nil, WithMetricsRecorder(rec))
			if _, err := s.Sync(context.Background()); err == nil {
				t.Fatal("Sync succeeded")
			} else if tt.storeEr != nil && !errors.Is(err, tt.storeEr) {
				t.Errorf("error = %v, want %v", err, tt.storeEr)
			}
			if len(rec.outcomes) != 1 || rec.outcomes[0] != "error" {
				t.Errorf("outcomes = %v, want [error]", rec.outcomes)
			}
		})
	}
}

func TestNewRunner(t *testing.T) {
	t.Parallel()
	s := New(&fakeStore{}, nil, "http://unused", nil)

	if _, err := NewRunner(context.Background(), s, "not a spec"); !errors.Is(err, model.ErrInvalidParameters) {
		t.Errorf("bad spec error = %v, want %v", err, model.ErrInvalidParameters)
	}

	r, err := NewRunner(context.Background(), s, "@every 6h")
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	r.Start()
	defer r.Stop()
	if next := r.Next(); next.IsZero() || time.Until(next) > 6*time.Hour+time.Minute {
		t.Errorf("Next() = %v, want within 6h", next)
	}
}
