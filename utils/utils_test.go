package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("test")

	assert.Equal(t, "test", cb.Name())
	assert.Equal(t, uint32(100), cb.maxRequests)
	assert.Equal(t, 60*time.Second, cb.interval)
	assert.Equal(t, 60*time.Second, cb.timeout)
	assert.Equal(t, 0.6, cb.failureRatio)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Options(t *testing.T) {
	cb := NewCircuitBreaker("pubnub", WithMaxRequests(5), WithTimeout(time.Second), WithFailureRatio(0.5))

	assert.Equal(t, uint32(5), cb.maxRequests)
	assert.Equal(t, time.Second, cb.timeout)
	assert.Equal(t, 0.5, cb.failureRatio)
}

func TestCircuitBreaker_ExecuteSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test")

	result, err := cb.Execute(context.Background(), func() (any, error) {
		return "success", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, uint32(1), cb.counts.Requests)
	assert.Equal(t, uint32(1), cb.counts.TotalSuccesses)
}

func TestCircuitBreaker_ExecuteFailure(t *testing.T) {
	cb := NewCircuitBreaker("test")
	boom := errors.New("boom")

	result, err := cb.Execute(context.Background(), func() (any, error) {
		return nil, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Nil(t, result)
	assert.Equal(t, uint32(1), cb.counts.TotalFailures)
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cb.Execute(ctx, func() (any, error) {
		t.Fatal("must not run with a cancelled context")
		return nil, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint32(0), cb.counts.Requests)
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("test", WithMaxRequests(5), WithStateChange(func(_ string, _, to State) {
		transitions = append(transitions, to)
	}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(ctx, func() (any, error) { return "ok", nil })
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(ctx, func() (any, error) { return nil, errors.New("failure") })
	}

	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, []State{StateOpen}, transitions)

	_, err := cb.Execute(ctx, func() (any, error) {
		t.Fatal("must not run while open")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrOpenState)
}

func TestCircuitBreaker_OpenToHalfOpenToClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxRequests(5), WithTimeout(50*time.Millisecond))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(ctx, func() (any, error) { return nil, errors.New("failure") })
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(ctx, func() (any, error) { return "ok", nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxRequests(2), WithTimeout(50*time.Millisecond), WithFailureRatio(0.5))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = cb.Execute(ctx, func() (any, error) { return nil, errors.New("failure") })
	}
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(ctx, func() (any, error) { return nil, errors.New("still down") })
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_StaleGenerationIgnored(t *testing.T) {
	cb := NewCircuitBreaker("test")
	generation, err := cb.beforeRequest()
	require.NoError(t, err)

	cb.mutex.Lock()
	cb.setState(StateOpen, time.Now())
	cb.mutex.Unlock()

	cb.afterRequest(generation, false)
	assert.Equal(t, uint32(0), cb.counts.TotalFailures)
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker("concurrent")
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := cb.Execute(ctx, func() (any, error) {
				if id%10 == 0 {
					return nil, errors.New("simulated failure")
				}
				return "ok", nil
			})
			if err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 90, successCount)
	assert.Equal(t, uint32(100), cb.counts.Requests)
}

func TestCircuitBreaker_PanicRecovery(t *testing.T) {
	cb := NewCircuitBreaker("panic")
	ctx := context.Background()

	assert.Panics(t, func() {
		_, _ = cb.Execute(ctx, func() (any, error) {
			panic("test panic")
		})
	})

	result, err := cb.Execute(ctx, func() (any, error) { return "recovery", nil })
	assert.NoError(t, err)
	assert.Equal(t, "recovery", result)
}

func TestCircuitBreaker_ReadyToTrip(t *testing.T) {
	cb := NewCircuitBreaker("trip")

	tests := []struct {
		name         string
		requests     uint32
		failures     uint32
		maxRequests  uint32
		failureRatio float64
		expected     bool
	}{
		{"not enough requests", 5, 5, 10, 0.5, false},
		{"high failure ratio", 10, 8, 10, 0.6, true},
		{"low failure ratio", 10, 3, 10, 0.6, false},
		{"exact threshold", 10, 6, 10, 0.6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb.maxRequests = tt.maxRequests
			cb.failureRatio = tt.failureRatio
			cb.counts.Requests = tt.requests
			cb.counts.TotalFailures = tt.failures

			assert.Equal(t, tt.expected, cb.readyToTrip())
		})
	}
}

func TestRedisHealthCheck_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectPing().SetVal("PONG")

	assert.NoError(t, RedisHealthCheck(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisHealthCheck_Failure(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectPing().SetErr(errors.New("connection failed"))

	err := RedisHealthCheck(db)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis health check failed")
	assert.Contains(t, err.Error(), "connection failed")
}

func TestRedisOptions(t *testing.T) {
	opts := redisOptions(RedisOptions{URL: "redis://:secret@cache:6380/2"})
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 100, opts.PoolSize)

	opts = redisOptions(RedisOptions{URL: "localhost:6379", Password: "pw", DB: 1, PoolSize: 20})
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 1, opts.DB)
	assert.Equal(t, 20, opts.PoolSize)
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(4)
	require.NoError(t, err)
	assert.Len(t, code, 8)
	assert.Regexp(t, `^[0-9A-F]{8}$`, code)
}

func TestGenerateSessionID(t *testing.T) {
	a := GenerateSessionID()
	b := GenerateSessionID()

	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "session_")
	assert.True(t, IsValidSessionID(a))
}

func TestIsValidSessionID(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		expected bool
	}{
		{"generated shape", "session_3f1c2b1e-8a0b-4b9e-9d1f-0c6a3f2e7d11", true},
		{"underscores and hyphens", "session_123-abc_DEF-789", true},
		{"empty", "", false},
		{"too short", "short", false},
		{"invalid characters", "session@123#456", false},
		{"path traversal", "../../etc/passwd", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsValidSessionID(tt.id))
		})
	}
}
