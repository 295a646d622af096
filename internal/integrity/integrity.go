// Package integrity scores how well stored data matches the entity
// declarations: missing and undeclared fields, type mismatches, dead links,
// and references to records that do not exist.
package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Krajiyah/firebase-admin-util/internal/model"
	"github.com/Krajiyah/firebase-admin-util/internal/record"
	"github.com/Krajiyah/firebase-admin-util/internal/schema"
)

// Status grades a score.
type Status string

const (
	StatusOK      Status = "ok"      // score in [0.8, 1]
	StatusWarning Status = "warning" // score in [0.5, 0.8)
	StatusDanger  Status = "danger"
)

// StatusOf grades a score.
func StatusOf(score float64) Status {
	switch {
	case score >= 0.8:
		return StatusOK
	case score >= 0.5:
		return StatusWarning
	}
	return StatusDanger
}

// Bad counts problems.
type Bad struct {
	MissingFields  int `json:"missingFields"`
	ExtraFields    int `json:"extraFields"`
	IncorrectTypes int `json:"incorrectTypes"`
	BrokenLinks    int `json:"brokenLinks"`
	BrokenRefs     int `json:"brokenRefs"`
}

func (b Bad) sum() int {
	return b.MissingFields + b.ExtraFields + b.IncorrectTypes + b.BrokenLinks + b.BrokenRefs
}

// Good counts checks that passed.
type Good struct {
	ValidTypes int `json:"validTypes"`
	ValidLinks int `json:"validLinks"`
	ValidRefs  int `json:"validRefs"`
}

func (g Good) sum() int {
	return g.ValidTypes + g.ValidLinks + g.ValidRefs
}

// Neutral holds counts that do not affect the score.
type Neutral struct {
	TotalNodes int `json:"totalNodes"`
}

// Metrics is the tally for one entity type or for the whole report.
type Metrics struct {
	Bad     Bad     `json:"bad"`
	Good    Good    `json:"good"`
	Neutral Neutral `json:"neutral"`
}

func (m *Metrics) add(o Metrics) {
	m.Bad.MissingFields += o.Bad.MissingFields
	m.Bad.ExtraFields += o.Bad.ExtraFields
	m.Bad.IncorrectTypes += o.Bad.IncorrectTypes
	m.Bad.BrokenLinks += o.Bad.BrokenLinks
	m.Bad.BrokenRefs += o.Bad.BrokenRefs
	m.Good.ValidTypes += o.Good.ValidTypes
	m.Good.ValidLinks += o.Good.ValidLinks
	m.Good.ValidRefs += o.Good.ValidRefs
	m.Neutral.TotalNodes += o.Neutral.TotalNodes
}

// Report is the result of a run.
type Report struct {
	Entities map[string]Metrics `json:"entities"`
	Totals   Metrics            `json:"totals"`
	// Score is good/(good+bad); 1 when nothing was checked.
	Score  float64 `json:"score"`
	Status Status  `json:"integrity"`
}

// Checker runs integrity reports over a registry.
type Checker struct {
	reg         model.Registry
	client      *http.Client
	checkLinks  bool
	concurrency int
	logger      *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithHTTPClient sets the client used to probe link fields.
func WithHTTPClient(c *http.Client) Option {
	return func(ch *Checker) { ch.client = c }
}

// WithoutLinkChecks counts link fields by type only.
func WithoutLinkChecks() Option {
	return func(ch *Checker) { ch.checkLinks = false }
}

// WithConcurrency bounds the number of parallel link and reference probes.
func WithConcurrency(n int) Option {
	return func(ch *Checker) {
		if n > 0 {
			ch.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ch *Checker) { ch.logger = l }
}

// New creates a checker for reg.
func New(reg model.Registry, opts ...Option) *Checker {
	c := &Checker{
		reg:         reg,
		client:      &http.Client{Timeout: 10 * time.Second},
		checkLinks:  true,
		concurrency: 8,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run reads every entity collection and builds the report.
func (c *Checker) Run(ctx context.Context) (*Report, error) {
	rep := &Report{Entities: make(map[string]Metrics, len(c.reg))}
	for _, name := range c.reg.Names() {
		m, err := c.checkEntity(ctx, c.reg[name])
		if err != nil {
			return nil, err
		}
		rep.Entities[name] = m
		rep.Totals.add(m)
	}
	good, bad := rep.Totals.Good.sum(), rep.Totals.Bad.sum()
	rep.Score = 1
	if good+bad > 0 {
		rep.Score = float64(good) / float64(good+bad)
	}
	rep.Status = StatusOf(rep.Score)
	c.logger.Info("integrity report", "score", rep.Score, "status", rep.Status)
	return rep, nil
}

// tally guards the metrics of one entity while probes run.
type tally struct {
	mu sync.Mutex
	m  Metrics
}

func (t *tally) update(fn func(m *Metrics)) {
	t.mu.Lock()
	fn(&t.m)
	t.mu.Unlock()
}

func (c *Checker) checkEntity(ctx context.Context, m *model.Model) (Metrics, error) {
	entities, err := m.GetAll(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("integrity %s: %w", m.Name(), err)
	}

	var (
		base Metrics
		t    tally
		wg   sync.WaitGroup
		sem  = make(chan struct{}, c.concurrency)
	)
	probe := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			fn()
		}()
	}

	base.Neutral.TotalNodes = len(entities)
	decl := m.Schema()
	for _, e := range entities {
		value := e.Value()
		for name := range value {
			if name == record.UpdatedField {
				continue
			}
			if _, ok := decl.Field(name); !ok {
				base.Bad.ExtraFields++
			}
		}
		for _, f := range decl.Fields {
			v, present := value[f.Name]
			if !present {
				base.Bad.MissingFields++
				continue
			}
			if err := f.Check(v); err != nil {
				base.Bad.IncorrectTypes++
				continue
			}
			base.Good.ValidTypes++
			switch {
			case f.Kind != schema.KindScalar:
				target := c.reg[f.Ref]
				for _, key := range refKeys(v) {
					probe(func() { c.checkRef(ctx, &t, target, key) })
				}
			case f.Scalar == schema.Link && c.checkLinks:
				link := v.(string)
				probe(func() { c.checkLink(ctx, &t, link) })
			}
		}
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return Metrics{}, err
	}
	base.add(t.m)
	return base, nil
}

func refKeys(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		keys := make([]string, 0, len(t))
		for _, k := range t {
			keys = append(keys, k.(string))
		}
		return keys
	}
	return nil
}

func (c *Checker) checkRef(ctx context.Context, t *tally, target *model.Model, key string) {
	ok, err := target.Exists(ctx, key)
	if err != nil {
		c.logger.Warn("reference probe failed", "entity", target.Name(), "key", key, "err", err)
	}
	t.update(func(m *Metrics) {
		if ok {
			m.Good.ValidRefs++
		} else {
			m.Bad.BrokenRefs++
		}
	})
}

func (c *Checker) checkLink(ctx context.Context, t *tally, link string) {
	ok := c.linkAlive(ctx, link)
	t.update(func(m *Metrics) {
		if ok {
			m.Good.ValidLinks++
		} else {
			m.Bad.BrokenLinks++
		}
	})
}

// linkAlive issues a HEAD request; transport errors and 4xx/5xx responses
// count as broken.
func (c *Checker) linkAlive(ctx context.Context, link string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("link probe failed", "link", link, "err", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 400
}
