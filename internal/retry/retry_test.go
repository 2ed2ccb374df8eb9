package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/taxwise-partners/sp-estimator/internal/logging"
	"github.com/taxwise-partners/sp-estimator/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testRunner(m *metrics.Metrics) Runner {
	return Runner{Attempts: 2, Delay: 10 * time.Millisecond, Logger: logging.Nop(), Metrics: m}
}

func TestSucceedsFirstTime(t *testing.T) {
	calls := 0
	err := testRunner(nil).Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetriesOnceThenSucceeds(t *testing.T) {
	m := metrics.New("test", prometheus.NewRegistry())
	var attempts []int

	start := time.Now()
	err := testRunner(m).Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		if attempt == 1 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunRetries))
}

func TestExhausted(t *testing.T) {
	boom := errors.New("still broken")
	calls := 0
	err := testRunner(nil).Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return boom
	})

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 2, ex.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestPermanentNotRetried(t *testing.T) {
	cfgErr := errors.New("endpoint missing")

	tests := map[string]struct {
		runner Runner
		err    error
	}{
		"wrapped":   {testRunner(nil), Permanent(cfgErr)},
		"predicate": {Runner{Attempts: 2, Logger: logging.Nop(), IsPermanent: func(err error) bool { return errors.Is(err, cfgErr) }}, cfgErr},
		"canceled":  {testRunner(nil), context.Canceled},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			calls := 0
			err := tt.runner.Do(context.Background(), func(ctx context.Context, attempt int) error {
				calls++
				return tt.err
			})
			assert.Equal(t, 1, calls)
			assert.ErrorIs(t, err, tt.err)
			var ex *ExhaustedError
			assert.False(t, errors.As(err, &ex))
		})
	}
}

func TestCancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := Runner{Attempts: 2, Delay: time.Hour, Logger: logging.Nop()}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	calls := 0
	err := r.Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDefault(t *testing.T) {
	r := Default()
	assert.Equal(t, 2, r.Attempts)
	assert.Equal(t, 2*time.Second, r.Delay)
}
