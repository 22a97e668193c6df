package ephemeris

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/across/core"
	"github.com/signalsfoundry/across/internal/worker"
	"github.com/signalsfoundry/across/model"
)

// DefaultHorizonsURL is the JPL Horizons API endpoint.
const DefaultHorizonsURL = "https://ssd.jpl.nasa.gov/api/horizons.api"

// HorizonsAPIError is a non-200 reply or an error document from Horizons.
type HorizonsAPIError struct {
	Status int
	Body   string
}

func (e *HorizonsAPIError) Error() string {
	return fmt.Sprintf("horizons API error (%d): %s", e.Status, e.Body)
}

// HorizonsClient fetches geocentric state vectors from JPL Horizons.
type HorizonsClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHorizonsClient(httpClient *http.Client, baseURL string) *HorizonsClient {
	if baseURL == "" {
		baseURL = DefaultHorizonsURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HorizonsClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type horizonsReply struct {
	Result string `json:"result"`
	Error  string `json:"error"`
}

// Vectors returns the geocentric equatorial positions of naifID tabulated
// every step (rounded down to whole minutes) over [start, stop].
func (c *HorizonsClient) Vectors(ctx context.Context, naifID int, start, stop time.Time, step time.Duration) ([]statePoint, error) {
	minutes := int(step / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	q := url.Values{}
	q.Set("format", "json")
	q.Set("COMMAND", fmt.Sprintf("'%d'", naifID))
	q.Set("OBJ_DATA", "'NO'")
	q.Set("MAKE_EPHEM", "'YES'")
	q.Set("EPHEM_TYPE", "'VECTORS'")
	q.Set("CENTER", "'500@399'")
	q.Set("REF_PLANE", "'FRAME'")
	q.Set("VEC_TABLE", "'1'")
	q.Set("OUT_UNITS", "'KM-S'")
	q.Set("CSV_FORMAT", "'YES'")
	q.Set("TIME_TYPE", "'UT'")
	q.Set("START_TIME", "'"+start.UTC().Format("2006-01-02 15:04:05")+"'")
	q.Set("STOP_TIME", "'"+stop.UTC().Format("2006-01-02 15:04:05")+"'")
	q.Set("STEP_SIZE", fmt.Sprintf("'%dm'", minutes))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HorizonsAPIError{Status: resp.StatusCode, Body: string(body)}
	}

	var reply horizonsReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decode horizons reply: %w", err)
	}
	if reply.Error != "" {
		return nil, &HorizonsAPIError{Status: resp.StatusCode, Body: reply.Error}
	}
	return parseHorizonsVectors(reply.Result)
}

// parseHorizonsVectors reads the CSV rows between $$SOE and $$EOE:
// JD, calendar date, X, Y, Z.
func parseHorizonsVectors(result string) ([]statePoint, error) {
	begin := strings.Index(result, "$$SOE")
	end := strings.Index(result, "$$EOE")
	if begin < 0 || end < begin {
		return nil, fmt.Errorf("horizons reply has no ephemeris table: %s", firstLine(result))
	}

	var out []statePoint
	for _, line := range strings.Split(result[begin+len("$$SOE"):end], "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 5 {
			return nil, fmt.Errorf("horizons row has %d fields: %q", len(fields), line)
		}
		var vals [4]float64
		for i, idx := range []int{0, 2, 3, 4} {
			v, err := strconv.ParseFloat(strings.TrimSpace(fields[idx]), 64)
			if err != nil {
				return nil, fmt.Errorf("horizons row %q: %w", line, err)
			}
			vals[i] = v
		}
		out = append(out, statePoint{
			Time:     core.TimeFromJulianDate(vals[0]),
			Position: core.Vec3{X: vals[1], Y: vals[2], Z: vals[3]},
		})
	}
	return out, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// JPLComputer samples a Horizons vector table at the request timestamps.
type JPLComputer struct {
	client *HorizonsClient
	pool   *worker.Pool
}

func NewJPLComputer(client *HorizonsClient, pool *worker.Pool) *JPLComputer {
	return &JPLComputer{client: client, pool: pool}
}

func (c *JPLComputer) Kind() model.EphemerisKind { return model.EphemerisJPL }

func (c *JPLComputer) Compute(ctx context.Context, cfg model.EphemerisConfig, req Request) ([]Sample, error) {
	ts, err := req.Timestamps()
	if err != nil {
		return nil, err
	}

	// Pad by one table step so the first and last samples interpolate.
	pad := req.Step
	if pad < time.Minute {
		pad = time.Minute
	}
	table, err := c.client.Vectors(ctx, cfg.JPL.NaifID, req.Begin.Add(-pad), req.End.Add(pad), req.Step)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, backendErr(model.EphemerisJPL, err)
	}

	samples, err := worker.Run(ctx, c.pool, func(ctx context.Context) ([]Sample, error) {
		in, err := newInterpolator(table)
		if err != nil {
			return nil, err
		}
		return inertialSamples(ctx, ts, in.At)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, backendErr(model.EphemerisJPL, err)
	}
	return samples, nil
}
