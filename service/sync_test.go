package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"stockapi/market"
	"stockapi/market/providers"
)

func newTestSyncJob(t *testing.T, cn, generic *fakeProvider) (*SyncJob, *fakeCache, func() (int, error)) {
	t.Helper()
	store := newTestStore(t)
	cache := newFakeCache()
	set := providers.Set{CN: cn, Generic: generic}
	job := NewSyncJob(store, cache, set, zap.NewNop().Sugar())
	return job, cache, func() (int, error) { return job.Run(context.Background()) }
}

func TestSyncRunsAndSetsMarker(t *testing.T) {
	cn := &fakeProvider{name: "cn", listings: map[string][]market.Listing{
		"CN": {
			{Symbol: "sh600000", Name: "浦发银行", Market: "CN"},
			{Symbol: "000001", Name: "平安银行", Market: "CN"},
		},
	}}
	generic := &fakeProvider{name: "generic"}
	job, cache, run := newTestSyncJob(t, cn, generic)

	count, err := run()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("Expected 2 synced entries, got %d", count)
	}

	// legacy prefixed listings land under the normalized code
	stock, err := job.store.FindStock("600000")
	if err != nil {
		t.Fatal(err)
	}
	if stock == nil {
		t.Fatal("Expected sh600000 stored as 600000")
	}

	today := time.Now().Format("2006-01-02")
	if data, ok := cache.Get(syncMarkerKey); !ok || string(data) != today {
		t.Errorf("Expected the marker set to today, got %q", data)
	}
}

func TestSyncSkipsWhenMarkerFresh(t *testing.T) {
	cn := &fakeProvider{name: "cn", listings: map[string][]market.Listing{
		"CN": {{Symbol: "600000", Name: "浦发银行", Market: "CN"}},
	}}
	generic := &fakeProvider{name: "generic"}
	_, cache, run := newTestSyncJob(t, cn, generic)

	today := time.Now().Format("2006-01-02")
	cache.Set(syncMarkerKey, []byte(today), syncMarkerTTL)

	count, err := run()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected a fresh marker to skip the run, got count %d", count)
	}
	if cn.listCalls != 0 {
		t.Errorf("Expected no provider calls on a skipped run, got %d", cn.listCalls)
	}
}

func TestSyncStaleMarkerRuns(t *testing.T) {
	cn := &fakeProvider{name: "cn", listings: map[string][]market.Listing{
		"CN": {{Symbol: "600000", Name: "浦发银行", Market: "CN"}},
	}}
	generic := &fakeProvider{name: "generic"}
	_, cache, run := newTestSyncJob(t, cn, generic)

	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	cache.Set(syncMarkerKey, []byte(yesterday), syncMarkerTTL)

	count, err := run()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected a stale marker to allow the run, got count %d", count)
	}
}

func TestSyncDeadCacheRunsAnyway(t *testing.T) {
	cn := &fakeProvider{name: "cn", listings: map[string][]market.Listing{
		"CN": {{Symbol: "600000", Name: "浦发银行", Market: "CN"}},
	}}
	generic := &fakeProvider{name: "generic"}
	_, cache, run := newTestSyncJob(t, cn, generic)
	cache.disabled = true

	count, err := run()
	if err != nil {
		t.Fatal(err)
	}
	// a degraded marker gate never blocks the sync itself
	if count != 1 {
		t.Errorf("Expected the job to run with a dead cache, got count %d", count)
	}
}

func TestSyncListingFailureIsNotFatal(t *testing.T) {
	cn := &fakeProvider{name: "cn", listingErr: errors.New("upstream down")}
	generic := &fakeProvider{name: "generic", listings: map[string][]market.Listing{
		"US": {{Symbol: "AAPL", Name: "Apple Inc.", Market: "US"}},
	}}
	job, cache, run := newTestSyncJob(t, cn, generic)

	count, err := run()
	if err != nil {
		t.Fatal(err)
	}
	// the CN failure is logged and skipped, the US listing still lands
	if count != 1 {
		t.Errorf("Expected 1 entry from the surviving market, got %d", count)
	}
	stock, _ := job.store.FindStock("AAPL")
	if stock == nil {
		t.Errorf("Expected AAPL synced despite the CN failure")
	}
	// an incomplete run must not mark the day done
	if _, ok := cache.Get(syncMarkerKey); ok {
		t.Errorf("Expected no marker after an incomplete run")
	}
}

func TestSyncFailedRunLeavesGateOpen(t *testing.T) {
	cn := &fakeProvider{name: "cn", listingErr: errors.New("upstream down")}
	generic := &fakeProvider{name: "generic", listingErr: errors.New("upstream down")}
	_, cache, run := newTestSyncJob(t, cn, generic)

	count, err := run()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected nothing synced, got %d", count)
	}
	if _, ok := cache.Get(syncMarkerKey); ok {
		t.Errorf("Expected the marker unset after a failed run")
	}

	// the next tick retries instead of being gated until tomorrow
	cn.listingErr = nil
	cn.listings = map[string][]market.Listing{
		"CN": {{Symbol: "600000", Name: "浦发银行", Market: "CN"}},
	}
	generic.listingErr = nil

	count, err = run()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected the retry to sync, got %d", count)
	}
	if _, ok := cache.Get(syncMarkerKey); !ok {
		t.Errorf("Expected the marker set after the successful retry")
	}
}
