// Package redis keeps quota counters in Redis so several gateway replicas share them.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/upb/tool-governance/models"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// reserveScript does rollover, check and increment in one round trip. Redis runs scripts
// atomically, so this is the serialization point for a key.
//
// KEYS[1] counter hash
// ARGV    day start, month start, day limit, month limit (-1 unlimited), updated_at, ttl ms
// returns {allowed, violated (0 none, 1 day, 2 month), day_count, month_count}
var reserveScript = goredis.NewScript(`
local h = redis.call('HMGET', KEYS[1], 'day_start', 'day_count', 'month_start', 'month_count')
local dayStart = h[1] or ARGV[1]
local dayCount = tonumber(h[2] or '0')
local monthStart = h[3] or ARGV[2]
local monthCount = tonumber(h[4] or '0')
local changed = 0

if ARGV[1] > dayStart then
  dayStart = ARGV[1]
  dayCount = 0
  changed = 1
end
if ARGV[2] > monthStart then
  monthStart = ARGV[2]
  monthCount = 0
  changed = 1
end

local dayLimit = tonumber(ARGV[3])
local monthLimit = tonumber(ARGV[4])
local violated = 0
if dayLimit >= 0 and dayCount >= dayLimit then
  violated = 1
elseif monthLimit >= 0 and monthCount >= monthLimit then
  violated = 2
end

if violated == 0 then
  dayCount = dayCount + 1
  monthCount = monthCount + 1
end

if violated == 0 or changed == 1 or h[1] == false then
  redis.call('HSET', KEYS[1], 'day_start', dayStart, 'day_count', dayCount,
    'month_start', monthStart, 'month_count', monthCount, 'updated_at', ARGV[5])
  redis.call('PEXPIRE', KEYS[1], ARGV[6])
end

local allowed = 0
if violated == 0 then allowed = 1 end
return {allowed, violated, dayCount, monthCount}
`)

// QuotaCounterStore implements repositories.QuotaCounterStore on a Redis hash per key
type QuotaCounterStore struct {
	client goredis.UniversalClient
	logger *zap.Logger
}

// NewClient parses a redis:// URL into a client
func NewClient(redisURL string) (*goredis.Client, error) {
	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return goredis.NewClient(opt), nil
}

// NewQuotaCounterStore creates a Redis-backed counter store
func NewQuotaCounterStore(client goredis.UniversalClient, logger *zap.Logger) *QuotaCounterStore {
	return &QuotaCounterStore{client: client, logger: logger}
}

// counterKey hash-tags tenant and tool so the key stays on one cluster slot
func counterKey(tenantID uuid.UUID, tool string) string {
	return fmt.Sprintf("toolquota:{%s:%s}", tenantID, tool)
}

// counterTTL keeps a key one day past the end of its month window
func counterTTL(now time.Time) time.Duration {
	return models.MonthStart(now).AddDate(0, 1, 0).Add(24 * time.Hour).Sub(now.UTC())
}

func limitArg(limit *int) int {
	if limit == nil {
		return -1
	}
	return *limit
}

// Reserve implements repositories.QuotaCounterStore
func (s *QuotaCounterStore) Reserve(ctx context.Context, policy *models.QuotaPolicy, now time.Time) (*models.QuotaDecision, error) {
	res, err := reserveScript.Run(ctx, s.client,
		[]string{counterKey(policy.TenantID, policy.ToolName)},
		models.DayStart(now).Format(dateLayout),
		models.MonthStart(now).Format(dateLayout),
		limitArg(policy.MaxCallsPerDay),
		limitArg(policy.MaxCallsPerMonth),
		now.UTC().Format(time.RFC3339Nano),
		counterTTL(now).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve quota in redis: %w", err)
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("unexpected reserve reply of length %d", len(res))
	}

	counter := models.NewQuotaCounter(policy.TenantID, policy.ToolName, now)
	counter.DayCount = int(res[2])
	counter.MonthCount = int(res[3])

	switch res[1] {
	case 1:
		return models.DeniedDecision(models.QuotaPeriodDay, counter, policy), nil
	case 2:
		return models.DeniedDecision(models.QuotaPeriodMonth, counter, policy), nil
	}

	return &models.QuotaDecision{
		Allowed:    res[0] == 1,
		DayCount:   counter.DayCount,
		DayLimit:   policy.MaxCallsPerDay,
		MonthCount: counter.MonthCount,
		MonthLimit: policy.MaxCallsPerMonth,
	}, nil
}

// Get implements repositories.QuotaCounterStore
func (s *QuotaCounterStore) Get(ctx context.Context, tenantID uuid.UUID, tool string, now time.Time) (*models.QuotaCounter, error) {
	fields, err := s.client.HGetAll(ctx, counterKey(tenantID, tool)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read quota counter from redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	counter := &models.QuotaCounter{TenantID: tenantID, ToolName: tool}
	if counter.DayWindowStart, err = time.Parse(dateLayout, fields["day_start"]); err != nil {
		return nil, fmt.Errorf("corrupt day_start for %s: %w", tool, err)
	}
	if counter.MonthWindowStart, err = time.Parse(dateLayout, fields["month_start"]); err != nil {
		return nil, fmt.Errorf("corrupt month_start for %s: %w", tool, err)
	}
	if counter.DayCount, err = strconv.Atoi(fields["day_count"]); err != nil {
		return nil, fmt.Errorf("corrupt day_count for %s: %w", tool, err)
	}
	if counter.MonthCount, err = strconv.Atoi(fields["month_count"]); err != nil {
		return nil, fmt.Errorf("corrupt month_count for %s: %w", tool, err)
	}
	if ts, perr := time.Parse(time.RFC3339Nano, fields["updated_at"]); perr == nil {
		counter.UpdatedAt = ts
	}

	counter.RollForward(now)
	return counter, nil
}

// Ping reports whether Redis is reachable
func (s *QuotaCounterStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
