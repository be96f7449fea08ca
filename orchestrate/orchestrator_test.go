package orchestrate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planetary-society/missionspend/cache"
	"github.com/planetary-society/missionspend/events"
	"github.com/planetary-society/missionspend/mission"
	"github.com/planetary-society/missionspend/usaspending"
)

// fakeAPI serves award, transaction, and funding endpoints from canned
// data, failing configured award IDs with a 404.
type fakeAPI struct {
	transactions map[string][]map[string]any
	failAwards   map[string]bool
	requests     atomic.Int64
	lastTxLimit  atomic.Int64
}

func (f *fakeAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/v2/awards/funding"):
			json.NewEncoder(w).Encode(map[string]any{
				"results":       []any{},
				"page_metadata": map[string]any{"hasNext": false},
			})
		case strings.HasPrefix(r.URL.Path, "/api/v2/awards/"):
			awardID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v2/awards/"), "/")
			if f.failAwards[awardID] {
				http.Error(w, "no such award", http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"generated_unique_award_id": awardID,
				"category":                  "contract",
				"recipient":                 map[string]any{"recipient_name": "Acme", "state_code": "CA"},
			})
		case r.URL.Path == "/api/v2/transactions/":
			var req struct {
				AwardID string `json:"award_id"`
				Limit   int    `json:"limit"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			f.lastTxLimit.Store(int64(req.Limit))
			results := f.transactions[req.AwardID]
			if results == nil {
				results = []map[string]any{}
			}
			json.NewEncoder(w).Encode(map[string]any{
				"results":       results,
				"page_metadata": map[string]any{"hasNext": false},
			})
		default:
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusTeapot)
		}
	})
}

func tx(id, date string, amount float64) map[string]any {
	return map[string]any{
		"id":                        id,
		"action_date":               date,
		"federal_action_obligation": amount,
		"recipient_state_code":      "CA",
	}
}

func testMission(short string, awardIDs ...string) *mission.Mission {
	return &mission.Mission{
		CanonicalFullName:  short + " Mission",
		CanonicalShortName: short,
		AwardIDs:           awardIDs,
	}
}

func newTestOrchestrator(t *testing.T, api *fakeAPI) (*Orchestrator, *cache.Store) {
	t.Helper()
	return newTestOrchestratorCfg(t, api, DefaultConfig())
}

func newTestOrchestratorCfg(t *testing.T, api *fakeAPI, orchCfg Config) (*Orchestrator, *cache.Store) {
	t.Helper()
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	cfg := usaspending.DefaultClientConfig()
	cfg.BaseURL = server.URL
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 1000
	cfg.MaxAttempts = 2
	cfg.InitialBackoff = time.Millisecond
	client, err := usaspending.NewClient(cfg, nil)
	require.NoError(t, err)

	store, err := cache.NewStore(t.TempDir(), time.Hour, nil)
	require.NoError(t, err)

	orch, err := New(orchCfg, client, store, events.NewPublisher(nil, ""), nil, nil)
	require.NoError(t, err)
	return orch, store
}

func resultFor(t *testing.T, report *BatchReport, missionID string, kind cache.Kind) MissionResult {
	t.Helper()
	for _, res := range report.Results {
		if res.MissionID == missionID && res.Kind == kind {
			return res
		}
	}
	t.Fatalf("no result for %s/%s", missionID, kind)
	return MissionResult{}
}

func TestRun_AggregatesAndCaches(t *testing.T) {
	api := &fakeAPI{
		transactions: map[string][]map[string]any{
			"AWD-1": {tx("t1", "2020-01-15", 100), tx("t2", "2021-02-01", 50)},
		},
	}
	orch, _ := newTestOrchestrator(t, api)

	report, err := orch.Run(context.Background(), []*mission.Mission{testMission("Psyche", "AWD-1")})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.NotEmpty(t, report.BatchID)

	outlays := resultFor(t, report, "psyche", cache.KindOutlays)
	require.Equal(t, StateCached, outlays.State)
	require.Len(t, outlays.Outlays, 2)
	assert.Equal(t, 2020, outlays.Outlays[0].FiscalYear)
	assert.Equal(t, "100", outlays.Outlays[0].Cumulative.String())
	assert.Equal(t, "150", outlays.Outlays[1].Cumulative.String())

	geo := resultFor(t, report, "psyche", cache.KindGeography)
	require.Equal(t, StateCached, geo.State)
	require.Len(t, geo.Regions, 1)
	assert.Equal(t, "CA", geo.Regions[0].Region)
}

func TestRun_SecondRunHitsCache(t *testing.T) {
	api := &fakeAPI{
		transactions: map[string][]map[string]any{
			"AWD-1": {tx("t1", "2020-01-15", 100)},
		},
	}
	orch, _ := newTestOrchestrator(t, api)
	missions := []*mission.Mission{testMission("Psyche", "AWD-1")}

	_, err := orch.Run(context.Background(), missions)
	require.NoError(t, err)
	fetchesAfterFirst := api.requests.Load()

	report, err := orch.Run(context.Background(), missions)
	require.NoError(t, err)

	for _, res := range report.Results {
		assert.Equal(t, StateCached, res.State)
		assert.True(t, res.CacheHit)
	}
	assert.Equal(t, fetchesAfterFirst, api.requests.Load(), "a full cache hit must not touch the API")

	// The cached aggregate round-trips intact.
	outlays := resultFor(t, report, "psyche", cache.KindOutlays)
	require.Len(t, outlays.Outlays, 1)
	assert.Equal(t, "100", outlays.Outlays[0].Cumulative.String())
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	api := &fakeAPI{
		transactions: map[string][]map[string]any{
			"AWD-A": {tx("ta", "2020-01-15", 10)},
			"AWD-C": {tx("tc", "2021-01-15", 30)},
		},
		failAwards: map[string]bool{"AWD-B": true},
	}
	orch, _ := newTestOrchestrator(t, api)

	report, err := orch.Run(context.Background(), []*mission.Mission{
		testMission("Alpha", "AWD-A"),
		testMission("Beta", "AWD-B"),
		testMission("Gamma", "AWD-C"),
	})
	require.NoError(t, err)
	require.Len(t, report.Results, 6)

	assert.Equal(t, StateCached, resultFor(t, report, "alpha", cache.KindOutlays).State)
	assert.Equal(t, StateCached, resultFor(t, report, "gamma", cache.KindOutlays).State)

	failed := resultFor(t, report, "beta", cache.KindOutlays)
	assert.Equal(t, StateFailed, failed.State)
	require.Error(t, failed.Err)
	var perm *usaspending.PermanentError
	assert.ErrorAs(t, failed.Err, &perm)

	require.Len(t, report.Failed(), 2)
}

func TestRun_DedupAcrossAwardQueries(t *testing.T) {
	// The same award appears twice in the mission's award list (as can
	// happen when an award is reachable through a parent IDV query and
	// directly); its transactions must count once.
	shared := tx("dup-1", "2020-03-03", 500)
	api := &fakeAPI{
		transactions: map[string][]map[string]any{
			"AWD-PARENT": {shared},
		},
	}
	orch, _ := newTestOrchestrator(t, api)

	report, err := orch.Run(context.Background(), []*mission.Mission{
		testMission("Viper", "AWD-PARENT", "AWD-PARENT"),
	})
	require.NoError(t, err)

	outlays := resultFor(t, report, "viper", cache.KindOutlays)
	require.Equal(t, StateCached, outlays.State)
	require.Len(t, outlays.Outlays, 1)
	assert.Equal(t, "500", outlays.Outlays[0].Cumulative.String())
	assert.Equal(t, 1, outlays.Outlays[0].Transactions)
}

func TestRun_AppliesConfiguredPaging(t *testing.T) {
	api := &fakeAPI{
		transactions: map[string][]map[string]any{
			"AWD-1": {
				tx("t1", "2020-01-15", 100),
				tx("t2", "2020-02-15", 50),
				tx("t3", "2020-03-15", 25),
			},
		},
	}
	cfg := DefaultConfig()
	cfg.PageSize = 25
	cfg.MaxRecords = 2
	orch, _ := newTestOrchestratorCfg(t, api, cfg)

	report, err := orch.Run(context.Background(), []*mission.Mission{testMission("Psyche", "AWD-1")})
	require.NoError(t, err)

	assert.Equal(t, int64(25), api.lastTxLimit.Load(), "configured page size must reach the wire")

	// The record cap truncates the materialized stream to the first two
	// transactions.
	outlays := resultFor(t, report, "psyche", cache.KindOutlays)
	require.Equal(t, StateCached, outlays.State)
	require.Len(t, outlays.Outlays, 1)
	assert.Equal(t, "150", outlays.Outlays[0].Cumulative.String())
	assert.Equal(t, 2, outlays.Outlays[0].Transactions)
}

func TestRun_EmptyMissionSucceedsEmpty(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakeAPI{})

	report, err := orch.Run(context.Background(), []*mission.Mission{testMission("Quiet")})
	require.NoError(t, err)

	outlays := resultFor(t, report, "quiet", cache.KindOutlays)
	assert.Equal(t, StateCached, outlays.State)
	assert.Empty(t, outlays.Outlays)
	assert.NoError(t, outlays.Err)
}

func TestRun_CanceledContext(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakeAPI{
		transactions: map[string][]map[string]any{},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := orch.Run(ctx, []*mission.Mission{testMission("Halted", "AWD-1")})
	require.Error(t, err)
	require.NotNil(t, report)
}

func TestStateMachine_Transitions(t *testing.T) {
	assert.True(t, StatePending.CanTransition(StateFetching))
	assert.True(t, StatePending.CanTransition(StateCached), "cache hit jumps straight to cached")
	assert.True(t, StateFetching.CanTransition(StateNormalizing))
	assert.True(t, StateNormalizing.CanTransition(StateAggregating))
	assert.True(t, StateAggregating.CanTransition(StateCached))
	assert.True(t, StateFetching.CanTransition(StateFailed))

	assert.False(t, StateCached.CanTransition(StateFetching))
	assert.False(t, StateFailed.CanTransition(StatePending))
	assert.False(t, StatePending.CanTransition(StateAggregating))

	assert.True(t, StateCached.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateFetching.Terminal())
}
