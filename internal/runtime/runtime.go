// Package runtime orchestrates a check: ban gate, parallel module fan-out,
// first-block-wins collection, and the journal, ban, and cache side effects
// that follow from the verdict.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/incrustwerush/rwaf/internal/bans"
	"github.com/incrustwerush/rwaf/internal/expr"
	"github.com/incrustwerush/rwaf/internal/journal"
	"github.com/incrustwerush/rwaf/internal/metrics"
	"github.com/incrustwerush/rwaf/internal/normalize"
	"github.com/incrustwerush/rwaf/internal/pool"
	"github.com/incrustwerush/rwaf/internal/rules"
	"github.com/incrustwerush/rwaf/internal/runtime/cache"
	"github.com/incrustwerush/rwaf/internal/runtime/modules"
	"github.com/incrustwerush/rwaf/internal/runtime/pipeline"
)

// Descriptor is the wire form of one request or response submitted to the
// pipeline. Header, path, and body carry transport-encoded bytes; a present
// status_code switches the pipeline to the response phase.
type Descriptor struct {
	IP         string `json:"ip"`
	Method     string `json:"method"`
	Header     string `json:"header"`
	UserAgent  string `json:"user_agent"`
	Path       string `json:"path"`
	Body       string `json:"body_raw_b64"`
	StatusCode *int   `json:"status_code"`
}

func (d Descriptor) statusCode() int {
	if d.StatusCode == nil {
		return 0
	}
	return *d.StatusCode
}

// Options carries the collaborators the pipeline is wired with.
type Options struct {
	Rules   *rules.Store
	Bans    *bans.Store
	Cache   cache.DecisionCache
	Alerts  *journal.Journal[journal.Alert]
	Traffic *journal.Journal[journal.Traffic]
	Pool    *pool.Pool
	Metrics *metrics.Recorder

	Settings             pipeline.Settings
	BanTTL               time.Duration
	EnableResponseFilter bool
	CustomRules          []expr.Program
}

// registered pairs a module with its private scratch slot. The slice order is
// the block tie-break order: when several modules block the same check, the
// lowest-index verdict wins.
type registered struct {
	module pipeline.Module
	slot   *pipeline.Slot
}

// Pipeline evaluates descriptors against the detection modules and applies
// the resulting side effects.
type Pipeline struct {
	log     *slog.Logger
	rules   *rules.Store
	bans    *bans.Store
	cache   cache.DecisionCache
	alerts  *journal.Journal[journal.Alert]
	traffic *journal.Journal[journal.Traffic]
	pool    *pool.Pool
	metrics *metrics.Recorder

	settings             pipeline.Settings
	banTTL               time.Duration
	enableResponseFilter bool

	modules []registered
}

// New registers the detection modules in their fixed order and returns the
// ready pipeline.
func New(opts Options, log *slog.Logger) *Pipeline {
	p := &Pipeline{
		log:                  log,
		rules:                opts.Rules,
		bans:                 opts.Bans,
		cache:                opts.Cache,
		alerts:               opts.Alerts,
		traffic:              opts.Traffic,
		pool:                 opts.Pool,
		metrics:              opts.Metrics,
		settings:             opts.Settings,
		banTTL:               opts.BanTTL,
		enableResponseFilter: opts.EnableResponseFilter,
	}
	for _, m := range []pipeline.Module{
		modules.NewBotDetection(),
		modules.NewBasicAttackRules(opts.Rules),
		modules.NewAPIAbuseDetection(),
		modules.NewFileUploadProtection(),
		modules.NewSlowLorisProtection(),
		modules.NewCustomRuleExpressions(opts.CustomRules, log),
		modules.NewAntiHTTPGenericBruteforce(),
	} {
		p.modules = append(p.modules, registered{module: m, slot: pipeline.NewSlot()})
	}
	return p
}

// Check evaluates one descriptor. Request-phase verdicts are served from the
// decision cache when possible; response-phase verdicts never touch the
// cache because the rate-based modules are time-sensitive.
func (p *Pipeline) Check(ctx context.Context, d Descriptor) pipeline.Decision {
	start := time.Now()
	req := normalize.NewRequest(d.IP, d.Method, d.UserAgent, d.Header, d.Path, d.Body, d.statusCode())

	if req.StatusCode != 0 {
		decision := p.checkResponse(req)
		p.metrics.ObserveCheck(metrics.PhaseResponse, decision.Action, false, time.Since(start))
		return decision
	}

	key := cache.Key(d.IP, d.Method, d.Header, d.UserAgent, d.Path, d.Body)
	if cached, ok, err := p.cache.Lookup(ctx, key); err != nil {
		p.log.Warn("decision cache lookup failed", slog.Any("error", err))
	} else if ok {
		p.metrics.ObserveCacheLookup(metrics.CacheLookupHit)
		p.metrics.ObserveCheck(metrics.PhaseRequest, cached.Action, true, time.Since(start))
		return cached
	} else {
		p.metrics.ObserveCacheLookup(metrics.CacheLookupMiss)
	}

	decision := p.evaluate(req)
	if err := p.cache.Store(ctx, key, decision); err != nil {
		p.log.Warn("decision cache store failed", slog.Any("error", err))
	}
	p.metrics.ObserveCheck(metrics.PhaseRequest, decision.Action, false, time.Since(start))
	return decision
}

// checkResponse is the response-phase path: same ban gate and fan-out, no
// cache, and the toggle can disable it outright.
func (p *Pipeline) checkResponse(req *normalize.Request) pipeline.Decision {
	if !p.enableResponseFilter {
		return pipeline.Allow(nil)
	}
	return p.evaluate(req)
}

// evaluate runs the full decision procedure: ban gate, module fan-out,
// first-block collection, then bans and journal entries for a block or a
// traffic entry for an allow. Cache hits never reach this point, so journal
// and ban side effects happen exactly once per evaluated check.
func (p *Pipeline) evaluate(req *normalize.Request) pipeline.Decision {
	if banned, reason := p.bans.IsBanned(req.IP); banned {
		p.log.Info("blocked banned address", slog.String("ip", req.IP), slog.String("reason", reason))
		return pipeline.Decision{Action: pipeline.ActionBlock, Reason: fmt.Sprintf("banned: %s", reason)}
	}

	verdicts := p.fanOut(req)

	for i, reg := range p.modules {
		verdict := verdicts[i]
		if !verdict.Blocked() {
			continue
		}
		name := reg.module.Name()
		until, _ := p.bans.Add(req.IP, p.banTTL, verdict.Reason)
		p.metrics.SetActiveBans(p.bans.ActiveCount())
		p.alerts.Append(journal.NewAlert(name, verdict.Reason, req.IP, req.Method, req.Path, req.UserAgent, verdict.MatchedRule, statusPtr(req)))
		p.traffic.Append(journal.NewTraffic(req.IP, req.Method, trafficPath(req), req.UserAgent, pipeline.ActionBlock, verdict.Reason, name, verdict.MatchedRule, statusPtr(req)))
		p.log.Info("request blocked",
			slog.String("ip", req.IP),
			slog.String("module", name),
			slog.String("reason", verdict.Reason),
			slog.Time("banned_until", until))
		return verdict
	}

	p.traffic.Append(journal.NewTraffic(req.IP, req.Method, trafficPath(req), req.UserAgent, pipeline.ActionAllow, "", "", "", statusPtr(req)))
	return pipeline.Allow(nil)
}

// fanOut runs every module on the shared worker pool and returns the
// verdicts indexed by registration order. A panicking module yields allow
// and must not take the pipeline down with it.
func (p *Pipeline) fanOut(req *normalize.Request) []pipeline.Decision {
	verdicts := make([]pipeline.Decision, len(p.modules))
	group := p.pool.Group()
	for i, reg := range p.modules {
		group.Go(func() {
			verdicts[i] = p.runModule(reg, req)
		})
	}
	group.Wait()
	for i, reg := range p.modules {
		if verdicts[i].Blocked() {
			p.metrics.ObserveModuleBlock(reg.module.Name())
		}
	}
	return verdicts
}

func (p *Pipeline) runModule(reg registered, req *normalize.Request) (decision pipeline.Decision) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("detection module panicked, treating as allow",
				slog.String("module", reg.module.Name()), slog.Any("panic", r))
			p.metrics.ObserveModuleFailure(reg.module.Name())
			decision = pipeline.Allow(nil)
		}
	}()
	return reg.module.Run(pipeline.Input{Req: req, Slot: reg.slot, Settings: p.settings})
}

// Reload re-reads rules, bans, and whitelist from disk and clears the
// decision cache so stale verdicts cannot outlive a rule change.
func (p *Pipeline) Reload(ctx context.Context) error {
	if err := p.rules.Reload(); err != nil {
		return fmt.Errorf("runtime: reload rules: %w", err)
	}
	p.bans.ReloadFromDisk()
	p.metrics.SetActiveBans(p.bans.ActiveCount())
	if err := p.cache.Clear(ctx); err != nil {
		return fmt.Errorf("runtime: clear decision cache: %w", err)
	}
	return nil
}

// CacheStats reports the decision cache counters.
func (p *Pipeline) CacheStats(ctx context.Context) (cache.Stats, error) {
	return p.cache.Stats(ctx)
}

// CacheClear flushes the decision cache.
func (p *Pipeline) CacheClear(ctx context.Context) error {
	return p.cache.Clear(ctx)
}

// Close releases the decision cache backend. The stores and journals are
// owned by main and closed there.
func (p *Pipeline) Close(ctx context.Context) error {
	return p.cache.Close(ctx)
}

func statusPtr(req *normalize.Request) *int {
	if req.StatusCode == 0 {
		return nil
	}
	code := req.StatusCode
	return &code
}

// trafficPath mirrors the journal convention: response-phase entries carry no
// path because the descriptor describes the upstream's answer.
func trafficPath(req *normalize.Request) string {
	if req.StatusCode != 0 {
		return ""
	}
	return req.Path
}
