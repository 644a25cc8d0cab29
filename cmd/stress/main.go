package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/site-ledger/internal/adapter/handler"
	"github.com/rl1809/site-ledger/internal/adapter/storage"
	"github.com/rl1809/site-ledger/internal/core/domain"
	"github.com/rl1809/site-ledger/internal/core/service"
	"github.com/rl1809/site-ledger/pkg/logger"
)

const (
	initialDelivered = 20
	totalRequests    = 50
	queueSize        = 100
)

// localCache is an in-process stand-in for the Redis adapter so the stress
// run only exercises the ledger's own concurrency control.
type localCache struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newLocalCache() *localCache {
	return &localCache{keys: make(map[string]bool)}
}

func (c *localCache) GetAvailable(ctx context.Context, itemID string) (int, bool, error) {
	return 0, false, nil
}

func (c *localCache) SetAvailable(ctx context.Context, itemID string, available int) error {
	return nil
}

func (c *localCache) InvalidateAvailable(ctx context.Context, itemID string) error {
	return nil
}

func (c *localCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *localCache) ReleaseIdempotency(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

func main() {
	ctx := context.Background()
	log := logger.New(logger.Config{Level: logger.LevelWarn, Format: "text", Component: "stress"})

	repo := storage.NewMemoryAdapter()
	cache := newLocalCache()
	fanout := service.NewEventFanout(queueSize, log)
	defer fanout.Close()

	// Drain the audit queue in background
	go func() {
		for range fanout.Queue() {
		}
	}()

	identity := handler.HeaderIdentity{}
	ledger := service.NewLedgerService(repo, cache, identity, fanout, log, domain.DefaultLowStockThreshold)
	allocations := service.NewAllocationService(repo, cache, nil, identity, fanout, log)

	item, err := ledger.CreateItem(ctx, domain.ItemKindMaterial, initialDelivered, "")
	if err != nil {
		log.Fatal("failed to create item", "error", err)
	}

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32

	// Spawn concurrent single-day allocations
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			// StorageUnavailable is the one retryable kind; callers are
			// expected to resubmit.
			for {
				_, err := allocations.Allocate(ctx, service.AllocateRequest{
					ItemID:         item.ID,
					ProjectDayIDs:  []string{fmt.Sprintf("day-%d", n)},
					QuantityPerDay: 1,
				})
				if errors.Is(err, domain.ErrStorageUnavailable) {
					continue
				}
				if err == nil {
					successCount.Add(1)
				} else {
					failCount.Add(1)
				}
				return
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS RUN RESULTS ==========")
	fmt.Printf("Initial Delivered: %d\n", initialDelivered)
	fmt.Printf("Total Requests:    %d\n", totalRequests)
	fmt.Printf("Successful:        %d\n", success)
	fmt.Printf("Failed:            %d\n", fail)
	fmt.Printf("Duration:          %v\n", elapsed)
	fmt.Println("========================================")

	if success == int32(initialDelivered) && fail == int32(totalRequests-initialDelivered) {
		fmt.Printf("PASS: Exactly %d allocations succeeded, %d failed\n", initialDelivered, totalRequests-initialDelivered)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialDelivered, totalRequests-initialDelivered, success, fail)
	}

	// Verify the quantity invariant at rest
	final, err := repo.GetItem(ctx, item.ID)
	if err != nil {
		log.Fatal("failed to read item", "error", err)
	}
	open, _ := repo.OpenAllocationTotal(ctx, item.ID)
	fmt.Printf("Final Available:   %d (open allocations %d)\n", final.AvailableQuantity, open)

	if final.AvailableQuantity == 0 && final.CheckInvariant(open) {
		fmt.Println("PASS: Availability depleted and ledger invariant holds")
	} else {
		fmt.Println("FAIL: Ledger invariant violated")
	}
}
