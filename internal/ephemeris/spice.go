package ephemeris

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/across/core"
	"github.com/signalsfoundry/across/internal/worker"
	"github.com/signalsfoundry/across/model"
)

// Kernel is a loaded ephemeris kernel. Close releases it.
type Kernel interface {
	Position(naifID int, t time.Time) (core.Vec3, error)
	Close() error
}

// KernelLoader fetches and opens the kernel at url.
type KernelLoader interface {
	Load(ctx context.Context, url string) (Kernel, error)
}

// SpiceComputer evaluates a kernel downloaded from the configured URL. The
// kernel is released before Compute returns on every path.
type SpiceComputer struct {
	loader KernelLoader
	pool   *worker.Pool
}

func NewSpiceComputer(loader KernelLoader, pool *worker.Pool) *SpiceComputer {
	return &SpiceComputer{loader: loader, pool: pool}
}

func (c *SpiceComputer) Kind() model.EphemerisKind { return model.EphemerisSpice }

func (c *SpiceComputer) Compute(ctx context.Context, cfg model.EphemerisConfig, req Request) (_ []Sample, err error) {
	ts, err := req.Timestamps()
	if err != nil {
		return nil, err
	}

	kernel, err := c.loader.Load(ctx, cfg.Spice.KernelURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, backendErr(model.EphemerisSpice, err)
	}
	defer func() {
		if cerr := kernel.Close(); cerr != nil && err == nil {
			err = backendErr(model.EphemerisSpice, fmt.Errorf("release kernel: %w", cerr))
		}
	}()

	naif := cfg.Spice.NaifID
	samples, err := worker.Run(ctx, c.pool, func(ctx context.Context) ([]Sample, error) {
		return inertialSamples(ctx, ts, func(t time.Time) (core.Vec3, error) {
			return kernel.Position(naif, t)
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, backendErr(model.EphemerisSpice, err)
	}
	return samples, nil
}

// HTTPKernelLoader downloads kernels to a temporary file and parses them as
// CCSDS OEM ephemeris messages (KVN encoding). The file is removed on Close.
type HTTPKernelLoader struct {
	httpClient *http.Client
	dir        string
}

func NewHTTPKernelLoader(httpClient *http.Client, dir string) *HTTPKernelLoader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}
	return &HTTPKernelLoader{httpClient: httpClient, dir: dir}
}

func (l *HTTPKernelLoader) Load(ctx context.Context, url string) (Kernel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download kernel: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download kernel %s: status %d", url, resp.StatusCode)
	}

	f, err := os.CreateTemp(l.dir, "across-kernel-*.oem")
	if err != nil {
		return nil, fmt.Errorf("create kernel file: %w", err)
	}
	k := &oemKernel{path: f.Name()}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		k.Close()
		return nil, fmt.Errorf("write kernel file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		k.Close()
		return nil, err
	}
	k.segments, err = parseOEM(f)
	f.Close()
	if err != nil {
		k.Close()
		return nil, err
	}
	return k, nil
}

type oemSegment struct {
	objectID   string
	objectName string
	table      interpolator
}

type oemKernel struct {
	path     string
	segments []oemSegment
}

func (k *oemKernel) Position(naifID int, t time.Time) (core.Vec3, error) {
	id := strconv.Itoa(naifID)
	for _, s := range k.segments {
		if s.objectID != id && s.objectName != id {
			continue
		}
		first, last := s.table[0].Time, s.table[len(s.table)-1].Time
		if t.Before(first) || t.After(last) {
			continue
		}
		return s.table.At(t)
	}
	return core.Vec3{}, fmt.Errorf("kernel has no coverage for NAIF %d at %s", naifID, t.UTC().Format(time.RFC3339))
}

func (k *oemKernel) Close() error {
	if k.path == "" {
		return nil
	}
	err := os.Remove(k.path)
	k.path = ""
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// parseOEM reads the META/data blocks of a KVN OEM file. Only Earth-centred
// segments are kept.
func parseOEM(r io.Reader) ([]oemSegment, error) {
	var (
		out    []oemSegment
		meta   map[string]string
		points []statePoint
		inMeta bool
	)
	flush := func() error {
		if meta == nil {
			return nil
		}
		center := strings.ToUpper(meta["CENTER_NAME"])
		if center == "EARTH" && len(points) > 0 {
			table, err := newInterpolator(points)
			if err != nil {
				return err
			}
			out = append(out, oemSegment{objectID: meta["OBJECT_ID"], objectName: meta["OBJECT_NAME"], table: table})
		}
		meta, points = nil, nil
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "COMMENT"):
			continue
		case line == "META_START":
			if err := flush(); err != nil {
				return nil, err
			}
			meta = map[string]string{}
			inMeta = true
			continue
		case line == "META_STOP":
			inMeta = false
			continue
		}

		if inMeta {
			if k, v, ok := strings.Cut(line, "="); ok {
				meta[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
			continue
		}
		if meta == nil || strings.Contains(line, "=") || strings.HasPrefix(line, "COVARIANCE") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, fmt.Errorf("oem line %d: expected epoch and position, got %q", lineNo, line)
		}
		t, err := parseOEMEpoch(fields[0])
		if err != nil {
			return nil, fmt.Errorf("oem line %d: %w", lineNo, err)
		}
		var p [3]float64
		for i := 0; i < 3; i++ {
			if p[i], err = strconv.ParseFloat(fields[i+1], 64); err != nil {
				return nil, fmt.Errorf("oem line %d: %w", lineNo, err)
			}
		}
		points = append(points, statePoint{Time: t, Position: core.Vec3{X: p[0], Y: p[1], Z: p[2]}})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("oem file has no Earth-centred segments")
	}
	return out, nil
}

var oemLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z",
	"2006-002T15:04:05.999999999",
}

func parseOEMEpoch(s string) (time.Time, error) {
	for _, layout := range oemLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised epoch %q", s)
}
