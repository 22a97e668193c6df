// Package resolver turns astronomical object names into coordinates using the
// CDS Sesame name resolver.
package resolver

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/signalsfoundry/across/internal/cache"
	"github.com/signalsfoundry/across/internal/logging"
	"github.com/signalsfoundry/across/internal/observability"
	"github.com/signalsfoundry/across/model"
)

// DefaultSesameURL queries Simbad, then NED, then VizieR and returns XML.
const DefaultSesameURL = "https://cds.unistra.fr/cgi-bin/nph-sesame/-oxp/SNV"

// ErrNotResolved means no Sesame database knows the name.
var ErrNotResolved = fmt.Errorf("%w: object name could not be resolved", model.ErrNotFound)

// Result is a resolved J2000 position in degrees.
type Result struct {
	RA       float64 `json:"ra"`
	Dec      float64 `json:"dec"`
	Resolver string  `json:"resolver"`
}

// SesameError is a non-200 reply from Sesame.
type SesameError struct {
	Status int
	Body   string
}

func (e *SesameError) Error() string {
	return fmt.Sprintf("sesame error (%d): %s", e.Status, e.Body)
}

type Option func(*Resolver)

// WithCache stores successful lookups for ttl.
func WithCache(c cache.Store, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		r.ttl = ttl
	}
}

type Resolver struct {
	baseURL    string
	httpClient *http.Client
	cache      cache.Store
	ttl        time.Duration
	log        logging.Logger
}

func New(httpClient *http.Client, baseURL string, log logging.Logger, opts ...Option) *Resolver {
	if baseURL == "" {
		baseURL = DefaultSesameURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logging.Noop()
	}
	r := &Resolver{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Normalize folds case and runs of whitespace so "m 31" and "M  31" share a
// cache entry.
func Normalize(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Resolve looks name up, consulting the cache first.
func (r *Resolver) Resolve(ctx context.Context, name string) (_ *Result, err error) {
	key := Normalize(name)
	if key == "" {
		return nil, fmt.Errorf("%w: name is required", model.ErrInvalidParameters)
	}
	ctx, span := observability.StartSpan(ctx, "resolver.Resolve", "object", key)
	defer func() { observability.EndSpan(span, err) }()
	log := logging.FromContext(ctx, r.log)

	if res, ok := r.cached(ctx, key); ok {
		return res, nil
	}

	res, err := r.query(ctx, strings.Join(strings.Fields(name), " "))
	if err != nil {
		if !errors.Is(err, ErrNotResolved) {
			log.Warn(ctx, "sesame lookup failed", logging.String("name", key), logging.Err(err))
		}
		return nil, err
	}
	r.store(ctx, key, res)
	return res, nil
}

func (r *Resolver) cached(ctx context.Context, key string) (*Result, bool) {
	if r.cache == nil {
		return nil, false
	}
	raw, found, err := r.cache.Get(ctx, "resolve:"+key)
	if err != nil {
		logging.FromContext(ctx, r.log).Warn(ctx, "resolver cache read failed", logging.Err(err))
		return nil, false
	}
	if !found {
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false
	}
	return &res, true
}

func (r *Resolver) store(ctx context.Context, key string, res *Result) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, "resolve:"+key, raw, r.ttl); err != nil {
		logging.FromContext(ctx, r.log).Warn(ctx, "resolver cache write failed", logging.Err(err))
	}
}

type sesameReply struct {
	Targets []struct {
		Name      string `xml:"name"`
		Resolvers []struct {
			Name string   `xml:"name,attr"`
			RA   *float64 `xml:"jradeg"`
			Dec  *float64 `xml:"jdedeg"`
		} `xml:"Resolver"`
	} `xml:"Target"`
}

func (r *Resolver) query(ctx context.Context, name string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"?"+url.PathEscape(name), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &SesameError{Status: resp.StatusCode, Body: string(body)}
	}
	return parseSesame(body)
}

// parseSesame returns the first resolver that produced a position.
func parseSesame(body []byte) (*Result, error) {
	var reply sesameReply
	if err := xml.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decode sesame reply: %w", err)
	}
	for _, t := range reply.Targets {
		for _, res := range t.Resolvers {
			if res.RA == nil || res.Dec == nil {
				continue
			}
			return &Result{RA: *res.RA, Dec: *res.Dec, Resolver: databaseName(res.Name)}, nil
		}
	}
	return nil, ErrNotResolved
}

// databaseName extracts "Simbad" from "S=Simbad (via url):    1".
func databaseName(attr string) string {
	name := attr
	if i := strings.Index(name, "="); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexAny(name, " (:"); i >= 0 {
		name = name[:i]
	}
	return name
}
