package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/vouch-desk/internal/adapter/storage"
	"github.com/rl1809/vouch-desk/internal/logger"
	"github.com/rl1809/vouch-desk/internal/port"
)

const itemName = "stress-item"

// Fires concurrent reservations at one item and checks that exactly the
// available stock was handed out.
func main() {
	backend := flag.String("backend", "file", "inventory backend: file or redis")
	redisAddr := flag.String("redis", "localhost:6379", "redis address for the redis backend")
	initialStock := flag.Int("stock", 20, "initial quantity")
	totalRequests := flag.Int("requests", 50, "concurrent reservations of one unit")
	flag.Parse()

	ctx := context.Background()
	log := logger.New(os.Stderr, "warn", true)

	var store port.InventoryStore
	switch *backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()

		namespace := "stress-" + uuid.NewString()
		adapter := storage.NewRedisAdapter(rdb, namespace)
		defer rdb.Del(ctx, namespace+":stock", namespace+":order", namespace+":seq")
		store = adapter
	case "file":
		dir, err := os.MkdirTemp("", "vouch-desk-stress")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create temp dir")
		}
		defer os.RemoveAll(dir)

		fs, err := storage.OpenFileStore(filepath.Join(dir, "stocks_data.json"), log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open file store")
		}
		store = fs
	default:
		log.Fatal().Str("backend", *backend).Msg("unknown backend")
	}

	if err := store.Upsert(ctx, itemName, *initialStock); err != nil {
		log.Fatal().Err(err).Msg("failed to set stock")
	}

	var successCount, failCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Reserve(ctx, itemName, 1); err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	fail := failCount.Load()
	expectedSuccess := min(*initialStock, *totalRequests)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Backend:          %s\n", *backend)
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if int(success) == expectedSuccess && int(fail) == *totalRequests-expectedSuccess {
		fmt.Printf("PASS: Exactly %d reservations succeeded, %d failed\n", success, fail)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			expectedSuccess, *totalRequests-expectedSuccess, success, fail)
	}

	item, err := store.Get(ctx, itemName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read final stock")
	}
	fmt.Printf("Final Stock: %d\n", item.Quantity)

	if item.Quantity == *initialStock-expectedSuccess {
		fmt.Println("PASS: Stock never went negative")
	} else {
		fmt.Printf("FAIL: Expected stock %d, got %d\n", *initialStock-expectedSuccess, item.Quantity)
	}
}
