// Package orchestrate drives mission aggregation: it fans a batch of
// missions across a bounded worker pool, fetches each mission's award
// activity through the shared rate-limited client, folds it into outlay
// and geographic aggregates, and persists results through the cache.
// Failures are isolated per mission; the batch always runs to completion
// and reports every mission's terminal state.
package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/planetary-society/missionspend/aggregate"
	"github.com/planetary-society/missionspend/cache"
	"github.com/planetary-society/missionspend/events"
	"github.com/planetary-society/missionspend/mission"
	"github.com/planetary-society/missionspend/normalize"
	"github.com/planetary-society/missionspend/usaspending"
)

// Config bounds the orchestrator's parallelism.
type Config struct {
	// Workers is the number of missions processed concurrently.
	Workers int
	// AwardFanOut is the number of concurrent award fetches within one
	// mission. The shared client rate limiter still caps total request
	// rate; fan-out only raises in-flight parallelism.
	AwardFanOut int

	// PageSize overrides the records fetched per API page when positive.
	PageSize int

	// MaxRecords caps the records materialized per award query; zero
	// means unlimited.
	MaxRecords int
}

// DefaultConfig returns modest parallelism suitable for the public API.
func DefaultConfig() Config {
	return Config{Workers: 3, AwardFanOut: 4}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("Workers must be positive, got %d", c.Workers)
	}
	if c.AwardFanOut <= 0 {
		return fmt.Errorf("AwardFanOut must be positive, got %d", c.AwardFanOut)
	}
	if c.PageSize < 0 {
		return fmt.Errorf("PageSize must not be negative, got %d", c.PageSize)
	}
	if c.MaxRecords < 0 {
		return fmt.Errorf("MaxRecords must not be negative, got %d", c.MaxRecords)
	}
	return nil
}

// MissionResult is the terminal outcome of one mission-computation pair.
type MissionResult struct {
	MissionID   string
	MissionName string
	Kind        cache.Kind
	State       State
	CacheHit    bool
	Err         error

	// Outlays is set for KindOutlays results that completed.
	Outlays []aggregate.FiscalBucket
	// Regions is set for KindGeography results that completed.
	Regions []aggregate.RegionSpend
}

// BatchReport is the outcome of one orchestrator run.
type BatchReport struct {
	BatchID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []MissionResult
}

// Failed returns the results that ended in StateFailed.
func (r *BatchReport) Failed() []MissionResult {
	var failed []MissionResult
	for _, res := range r.Results {
		if res.State == StateFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Orchestrator coordinates fetching, normalization, aggregation, and
// caching for batches of missions.
type Orchestrator struct {
	config     Config
	client     *usaspending.Client
	store      *cache.Store
	normalizer *normalize.Normalizer
	publisher  *events.Publisher
	metrics    *Metrics
	logger     *slog.Logger
}

// New creates an Orchestrator. The publisher may be nil-backed; metrics
// may be nil to disable instrumentation.
func New(cfg Config, client *usaspending.Client, store *cache.Store, publisher *events.Publisher, metrics *Metrics, logger *slog.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator config: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		config:     cfg,
		client:     client,
		store:      store,
		normalizer: normalize.New(logger),
		publisher:  publisher,
		metrics:    metrics,
		logger:     logger,
	}, nil
}

// Run processes a batch of missions and reports every mission's terminal
// state. The returned error is only for batch-level problems (context
// cancellation); per-mission failures live in the report.
func (o *Orchestrator) Run(ctx context.Context, missions []*mission.Mission) (*BatchReport, error) {
	report := &BatchReport{
		BatchID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	o.logger.Info("starting batch",
		slog.String("batch_id", report.BatchID),
		slog.Int("missions", len(missions)))

	var mu sync.Mutex
	pool := &errgroup.Group{}
	pool.SetLimit(o.config.Workers)

	for _, m := range missions {
		m := m
		pool.Go(func() error {
			results := o.processMission(ctx, report.BatchID, m)
			mu.Lock()
			report.Results = append(report.Results, results...)
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; failures are recorded per mission.
	_ = pool.Wait()

	report.FinishedAt = time.Now().UTC()
	o.finishBatch(report)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("batch interrupted: %w", err)
	}
	return report, nil
}

func (o *Orchestrator) finishBatch(report *BatchReport) {
	failed := report.Failed()
	if o.metrics != nil {
		for _, res := range report.Results {
			o.metrics.MissionsProcessed.WithLabelValues(string(res.State)).Inc()
		}
		o.metrics.BatchDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	}
	if err := o.publisher.PublishBatch(events.BatchEvent{
		BatchID:  report.BatchID,
		Missions: len(report.Results),
		Failed:   len(failed),
	}); err != nil {
		o.logger.Warn("publish batch event", slog.String("error", err.Error()))
	}
	o.logger.Info("batch finished",
		slog.String("batch_id", report.BatchID),
		slog.Int("results", len(report.Results)),
		slog.Int("failed", len(failed)))
}

// fetched is one mission's normalized transaction stream.
type fetched struct {
	records []normalize.TransactionRecord
	skipped int
}

// processMission runs the state machine for one mission and returns a
// terminal result per computation kind. It never returns an error: all
// failures are folded into the results so other missions are unaffected.
func (o *Orchestrator) processMission(ctx context.Context, batchID string, m *mission.Mission) []MissionResult {
	outlayKey := cache.Fingerprint(m.ID(), cache.KindOutlays, m.AwardIDs, aggregate.OutlayLogicVersion)
	geoKey := cache.Fingerprint(m.ID(), cache.KindGeography, m.AwardIDs, aggregate.GeoLogicVersion)

	state := StatePending
	o.publishState(batchID, m, "", state, nil, false)

	// Cache short-circuit: both kinds must hit, otherwise one fetch
	// serves both recomputations.
	outlays, outlayHit := o.cachedOutlays(m, outlayKey)
	regions, geoHit := o.cachedRegions(m, geoKey)
	if o.metrics != nil {
		o.countCacheLookup(cache.KindOutlays, outlayHit)
		o.countCacheLookup(cache.KindGeography, geoHit)
	}
	if outlayHit && geoHit {
		o.logger.Info("cache hit", slog.String("mission", m.ID()))
		o.publishState(batchID, m, "", StateCached, nil, true)
		return []MissionResult{
			{MissionID: m.ID(), MissionName: m.Name(), Kind: cache.KindOutlays, State: StateCached, CacheHit: true, Outlays: outlays},
			{MissionID: m.ID(), MissionName: m.Name(), Kind: cache.KindGeography, State: StateCached, CacheHit: true, Regions: regions},
		}
	}

	state = o.transition(batchID, m, state, StateFetching)
	stream, err := o.fetchMission(ctx, m)
	if err != nil {
		return o.failBoth(batchID, m, fmt.Errorf("fetch: %w", err))
	}

	state = o.transition(batchID, m, state, StateNormalizing)
	stream.records = normalize.Dedup(stream.records)
	if o.metrics != nil {
		o.metrics.RecordsNormalized.Add(float64(len(stream.records)))
		o.metrics.RecordsSkipped.Add(float64(stream.skipped))
	}

	state = o.transition(batchID, m, state, StateAggregating)
	series, err := aggregate.OutlaySeries(stream.records)
	if err != nil {
		o.logger.Error("outlay aggregation failed",
			slog.String("mission", m.ID()),
			slog.Int("records", len(stream.records)),
			slog.String("error", err.Error()))
		return o.failBoth(batchID, m, err)
	}
	regionRows := aggregate.RegionTotals(stream.records)

	o.transition(batchID, m, state, StateCached)
	results := []MissionResult{
		o.commit(m, cache.KindOutlays, outlayKey, series, nil),
		o.commit(m, cache.KindGeography, geoKey, nil, regionRows),
	}
	for _, res := range results {
		o.publishState(batchID, m, string(res.Kind), res.State, res.Err, false)
	}
	return results
}

// fetchMission retrieves and normalizes every award's transactions and
// funding rows, fanning out across awards up to the configured limit.
func (o *Orchestrator) fetchMission(ctx context.Context, m *mission.Mission) (*fetched, error) {
	var mu sync.Mutex
	stream := &fetched{}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(o.config.AwardFanOut)
	for _, awardID := range m.AwardIDs {
		awardID := awardID
		group.Go(func() error {
			award, err := o.client.Award(ctx, awardID)
			if err != nil {
				return err
			}
			txQuery := o.client.Transactions(awardID)
			fundQuery := o.client.Funding(awardID)
			if o.config.PageSize > 0 {
				txQuery = txQuery.PageSize(o.config.PageSize)
				fundQuery = fundQuery.PageSize(o.config.PageSize)
			}
			if o.config.MaxRecords > 0 {
				txQuery = txQuery.Limit(o.config.MaxRecords)
				fundQuery = fundQuery.Limit(o.config.MaxRecords)
			}
			txs, err := txQuery.All(ctx)
			if err != nil {
				return err
			}
			funding, err := fundQuery.All(ctx)
			if err != nil {
				return err
			}
			if o.metrics != nil {
				o.metrics.AwardsFetched.Inc()
			}

			txRes := o.normalizer.Transactions(award, txs)
			fundRes := o.normalizer.Funding(award, funding)
			mu.Lock()
			stream.records = append(stream.records, txRes.Records...)
			stream.records = append(stream.records, fundRes.Records...)
			stream.skipped += txRes.Skipped + fundRes.Skipped
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return stream, nil
}

// commit serializes one aggregate and writes it through the cache.
// A write failure fails only this kind; the atomic rename in the store
// guarantees no partial entry is left behind.
func (o *Orchestrator) commit(m *mission.Mission, kind cache.Kind, key string, series []aggregate.FiscalBucket, regions []aggregate.RegionSpend) MissionResult {
	res := MissionResult{
		MissionID:   m.ID(),
		MissionName: m.Name(),
		Kind:        kind,
		Outlays:     series,
		Regions:     regions,
	}

	var payload any = series
	if kind == cache.KindGeography {
		payload = regions
	}
	value, err := json.Marshal(payload)
	if err != nil {
		res.State = StateFailed
		res.Err = fmt.Errorf("marshal %s aggregate: %w", kind, err)
		return res
	}
	if err := o.store.Put(m.ID(), kind, key, value); err != nil {
		o.logger.Error("cache write failed",
			slog.String("mission", m.ID()),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		res.State = StateFailed
		res.Err = err
		return res
	}
	res.State = StateCached
	return res
}

func (o *Orchestrator) cachedOutlays(m *mission.Mission, key string) ([]aggregate.FiscalBucket, bool) {
	raw, ok := o.store.Get(m.ID(), cache.KindOutlays, key)
	if !ok {
		return nil, false
	}
	var series []aggregate.FiscalBucket
	if err := json.Unmarshal(raw, &series); err != nil {
		o.logger.Warn("cached outlay entry unreadable, recomputing",
			slog.String("mission", m.ID()), slog.String("error", err.Error()))
		return nil, false
	}
	return series, true
}

func (o *Orchestrator) cachedRegions(m *mission.Mission, key string) ([]aggregate.RegionSpend, bool) {
	raw, ok := o.store.Get(m.ID(), cache.KindGeography, key)
	if !ok {
		return nil, false
	}
	var rows []aggregate.RegionSpend
	if err := json.Unmarshal(raw, &rows); err != nil {
		o.logger.Warn("cached geography entry unreadable, recomputing",
			slog.String("mission", m.ID()), slog.String("error", err.Error()))
		return nil, false
	}
	return rows, true
}

func (o *Orchestrator) countCacheLookup(kind cache.Kind, hit bool) {
	if hit {
		o.metrics.CacheHits.WithLabelValues(string(kind)).Inc()
	} else {
		o.metrics.CacheMisses.WithLabelValues(string(kind)).Inc()
	}
}

// transition advances the mission's state, guarding against illegal
// moves, and publishes the new state.
func (o *Orchestrator) transition(batchID string, m *mission.Mission, from, to State) State {
	if !from.CanTransition(to) {
		// Indicates an orchestrator bug, not bad data; loud but non-fatal.
		o.logger.Error("illegal state transition",
			slog.String("mission", m.ID()),
			slog.String("from", string(from)),
			slog.String("to", string(to)))
	}
	o.publishState(batchID, m, "", to, nil, false)
	return to
}

func (o *Orchestrator) failBoth(batchID string, m *mission.Mission, err error) []MissionResult {
	o.logger.Error("mission failed",
		slog.String("mission", m.ID()),
		slog.String("error", err.Error()))
	o.publishState(batchID, m, "", StateFailed, err, false)
	return []MissionResult{
		{MissionID: m.ID(), MissionName: m.Name(), Kind: cache.KindOutlays, State: StateFailed, Err: err},
		{MissionID: m.ID(), MissionName: m.Name(), Kind: cache.KindGeography, State: StateFailed, Err: err},
	}
}

func (o *Orchestrator) publishState(batchID string, m *mission.Mission, kind string, state State, failure error, cacheHit bool) {
	ev := events.StatusEvent{
		BatchID:   batchID,
		MissionID: m.ID(),
		Kind:      kind,
		State:     string(state),
		CacheHit:  cacheHit,
	}
	if failure != nil {
		ev.Error = failure.Error()
	}
	if err := o.publisher.PublishStatus(ev); err != nil {
		o.logger.Warn("publish status event", slog.String("error", err.Error()))
	}
}
