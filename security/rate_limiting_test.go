package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func TestAllow_CountsPerWindow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 2, time.Minute, nil)
	ctx := context.Background()

	mock.ExpectIncr("antibot:10.0.0.1").SetVal(1)
	mock.ExpectExpire("antibot:10.0.0.1", time.Minute).SetVal(true)
	mock.ExpectIncr("antibot:10.0.0.1").SetVal(2)
	mock.ExpectIncr("antibot:10.0.0.1").SetVal(3)

	assert.True(t, limiter.allow(ctx, "10.0.0.1"))
	assert.True(t, limiter.allow(ctx, "10.0.0.1"))
	assert.False(t, limiter.allow(ctx, "10.0.0.1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllow_FailsOpenWhenRedisIsDown(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 1, time.Minute, nil)

	mock.ExpectIncr("antibot:10.0.0.2").SetErr(errors.New("connection refused"))

	assert.True(t, limiter.allow(context.Background(), "10.0.0.2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	limiter := NewRateLimiter(nil, 0, 0, nil)
	assert.Equal(t, int64(120), limiter.limit)
	assert.Equal(t, time.Minute, limiter.window)
}

func TestIsSuspiciousUserAgent(t *testing.T) {
	for _, ua := range []string{"Googlebot/2.1", "SomeCrawler", "python-scraper", "Spider"} {
		assert.True(t, isSuspiciousUserAgent(ua), ua)
	}
	for _, ua := range []string{"", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", "curl/8.4.0"} {
		assert.False(t, isSuspiciousUserAgent(ua), ua)
	}
}
