//go:build ci

// CI-only scale stress tests for the random-assignment path.
//
// These exercise 100/200/500 concurrent goroutines racing AssignRandom
// against a fixed book stock, far beyond the smaller flash-sale test.
// Excluded from local `go test ./...` runs.
//
//   go test ./tests/stress/...                    # excludes these
//   go test -tags ci,stress ./tests/stress/...           # includes these
//   go test -v -race -tags ci,stress ./tests/stress/...  # full suite, race detector

package stress

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/coupon-engine/internal/apperr"
	"github.com/fairyhunter13/coupon-engine/internal/cache"
	"github.com/fairyhunter13/coupon-engine/internal/repository"
	"github.com/fairyhunter13/coupon-engine/internal/service"
)

func runScaleAssignment(t *testing.T, stock, concurrentRequests int, timeout time.Duration) {
	t.Helper()
	cleanupTables(t)

	bookID := uuid.New().String()
	insertBook(t, bookID, nil, nil)
	for i := 0; i < stock; i++ {
		insertCoupon(t, uuid.New().String(), bookID, fmt.Sprintf("SCALE%06d", i))
	}

	bookRepo := repository.NewBookRepository(testPool)
	couponRepo := repository.NewCouponRepository(testPool)
	assignmentRepo := repository.NewAssignmentRepository(testPool)
	couponCache := cache.NewMemoryCache()
	couponSvc := service.NewCouponService(testPool, bookRepo, couponRepo, assignmentRepo, couponCache, 30, 600, 300, 60, 10, 100)

	parsedBookID, err := uuid.Parse(bookID)
	require.NoError(t, err)

	t.Logf("pool stats before: total=%d idle=%d acquired=%d max=%d",
		testPool.Stat().TotalConns(), testPool.Stat().IdleConns(), testPool.Stat().AcquiredConns(), testPool.Stat().MaxConns())

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var g errgroup.Group
	results := make(chan error, concurrentRequests)

	start := time.Now()
	for i := 0; i < concurrentRequests; i++ {
		userID := fmt.Sprintf("scale_user_%d", i)
		g.Go(func() error {
			_, err := couponSvc.AssignRandom(ctx, parsedBookID, userID)
			results <- err
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	elapsed := time.Since(start)

	var successes, businessFailures, otherErrors int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case apperr.KindOf(err) == apperr.KindBusiness:
			businessFailures++
		default:
			otherErrors++
			t.Logf("unexpected error: %v", err)
		}
	}

	t.Logf("results: successes=%d business=%d other=%d elapsed=%v", successes, businessFailures, otherErrors, elapsed)
	t.Logf("pool stats after: total=%d idle=%d acquired=%d max=%d",
		testPool.Stat().TotalConns(), testPool.Stat().IdleConns(), testPool.Stat().AcquiredConns(), testPool.Stat().MaxConns())

	assert.Equal(t, stock, successes, "exactly the available stock should be assigned")
	assert.Equal(t, concurrentRequests-stock, businessFailures, "everyone else must see a business error")
	assert.Equal(t, 0, otherErrors, "no other error kinds should occur")
	assert.Less(t, elapsed, timeout)

	counts := countsByStatus(t, bookID)
	assert.Equal(t, 0, counts["AVAILABLE"])
	assert.Equal(t, stock, counts["ASSIGNED"])
}

// TestScaleStress100 runs 100 concurrent goroutines against a book with
// stock=10: exactly 10 must win, 90 must see a business error.
func TestScaleStress100(t *testing.T) {
	runScaleAssignment(t, 10, 100, 60*time.Second)
}

// TestScaleStress200 runs 200 concurrent goroutines against a book with
// stock=20, verifying the outcome holds at a larger fan-out.
func TestScaleStress200(t *testing.T) {
	runScaleAssignment(t, 20, 200, 60*time.Second)
}

// TestScaleStress500 runs 500 concurrent goroutines against a book with
// stock=50, the widest fan-out, checked for connection pool exhaustion
// via the "other errors" bucket (acquisition failures would land there).
func TestScaleStress500(t *testing.T) {
	runScaleAssignment(t, 50, 500, 120*time.Second)
}
