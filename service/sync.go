package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"stockapi/db"
	"stockapi/market"
	"stockapi/market/providers"
)

const (
	syncMarkerKey = "sync:last_run_date"
	syncMarkerTTL = 48 * time.Hour
	syncTimeout   = 2 * time.Minute
)

var syncMarkets = []string{"CN", "US", "HK"}

// SyncJob 每日股票列表同步任务
//
// The job is idempotent and safe to re-run: a cache marker keyed by
// calendar date gates duplicate runs, and when the marker itself cannot
// be read the job runs anyway (fresh data beats duplicate avoidance when
// the gate is degraded).
type SyncJob struct {
	store     *db.Store
	cache     ByteCache
	providers providers.Set
	log       *zap.SugaredLogger
}

// NewSyncJob 创建同步任务
func NewSyncJob(store *db.Store, cache ByteCache, set providers.Set, log *zap.SugaredLogger) *SyncJob {
	return &SyncJob{
		store:     store,
		cache:     cache,
		providers: set,
		log:       log,
	}
}

// Run 执行一次同步；返回写入的条目数
func (j *SyncJob) Run(ctx context.Context) (int, error) {
	today := time.Now().Format(dateLayout)
	if data, ok := j.cache.Get(syncMarkerKey); ok && string(data) == today {
		j.log.Infow("stock list already synced today, skipping", "date", today)
		return 0, nil
	}

	count := 0
	failed := false
	for _, mkt := range syncMarkets {
		n, err := j.syncMarket(ctx, mkt)
		count += n
		if err != nil {
			failed = true
		}
	}

	// The marker is written only after a run where every listing call
	// succeeded; a failed listing leaves the gate open so the next tick
	// retries the same day.
	if failed {
		j.log.Warnw("stock list sync incomplete, not marking the day done", "count", count)
		return count, nil
	}

	j.cache.Set(syncMarkerKey, []byte(today), syncMarkerTTL)
	j.log.Infow("stock list sync finished", "count", count)
	return count, nil
}

func (j *SyncJob) syncMarket(ctx context.Context, mkt string) (int, error) {
	pctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	provider := j.providers.ForMarket(mkt)
	listings, err := provider.ListMarket(pctx, mkt)
	if err != nil {
		j.log.Warnw("market listing failed", "market", mkt, "provider", provider.Name(), "error", err)
		return 0, err
	}
	if len(listings) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	count := 0
	for _, listing := range listings {
		code := market.NormalizeCode(listing.Symbol)
		stock := market.Stock{
			Code:       code,
			Symbol:     code,
			Name:       listing.Name,
			Market:     listing.Market,
			Type:       "stock",
			UpdateTime: now,
		}
		if err := j.store.UpsertStock(stock); err != nil {
			j.log.Warnw("stock upsert failed", "code", code, "error", err)
			continue
		}
		count++
	}
	j.log.Infow("market synced", "market", mkt, "count", count)
	return count, nil
}
