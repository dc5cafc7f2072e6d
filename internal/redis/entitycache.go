package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smartqueue/reminderd/internal/source"
)

// DefaultEntityTTL is how long cached requester/department/service
// entries live. These records change rarely; a short TTL keeps edits
// from being invisible for long.
const DefaultEntityTTL = 10 * time.Minute

// CachedSource decorates a source.Adapter with a read-through cache for
// the related-entity lookups. Every candidate in a scan needs its
// requester, department and service to render a template; departments
// and services in particular repeat constantly across candidates.
// Appointment reads are never cached — the scanner must see fresh
// status and notified flags.
type CachedSource struct {
	next   source.Adapter
	client *Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedSource wraps next with entity caching. A zero ttl means
// DefaultEntityTTL.
func NewCachedSource(next source.Adapter, client *Client, ttl time.Duration, logger *zap.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = DefaultEntityTTL
	}
	return &CachedSource{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// FindDue delegates to the underlying adapter.
func (c *CachedSource) FindDue(ctx context.Context, start, end time.Time, statuses []string) ([]*source.AppointmentSnapshot, error) {
	return c.next.FindDue(ctx, start, end, statuses)
}

// GetByID delegates to the underlying adapter.
func (c *CachedSource) GetByID(ctx context.Context, id string) (*source.AppointmentSnapshot, error) {
	return c.next.GetByID(ctx, id)
}

// MarkNotified delegates to the underlying adapter.
func (c *CachedSource) MarkNotified(ctx context.Context, id string) error {
	return c.next.MarkNotified(ctx, id)
}

// GetRequester implements source.Adapter with read-through caching.
func (c *CachedSource) GetRequester(ctx context.Context, id string) (*source.Requester, error) {
	var r source.Requester
	ok, err := c.lookup(ctx, "requester", id, &r)
	if err == nil && ok {
		return &r, nil
	}

	fetched, err := c.next.GetRequester(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, "requester", id, fetched)
	return fetched, nil
}

// GetDepartment implements source.Adapter with read-through caching.
func (c *CachedSource) GetDepartment(ctx context.Context, id string) (*source.Department, error) {
	var d source.Department
	ok, err := c.lookup(ctx, "department", id, &d)
	if err == nil && ok {
		return &d, nil
	}

	fetched, err := c.next.GetDepartment(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, "department", id, fetched)
	return fetched, nil
}

// GetService implements source.Adapter with read-through caching.
func (c *CachedSource) GetService(ctx context.Context, id string) (*source.Service, error) {
	var s source.Service
	ok, err := c.lookup(ctx, "service", id, &s)
	if err == nil && ok {
		return &s, nil
	}

	fetched, err := c.next.GetService(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, "service", id, fetched)
	return fetched, nil
}

func entityKey(kind, id string) string {
	return fmt.Sprintf("entity:%s:%s", kind, id)
}

// lookup returns (true, nil) and fills dst on a cache hit. Cache errors
// are logged and reported as misses; the source of truth is always
// reachable through the underlying adapter.
func (c *CachedSource) lookup(ctx context.Context, kind, id string, dst interface{}) (bool, error) {
	val, err := c.client.rdb.Get(ctx, entityKey(kind, id)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		c.logger.Warn("entity cache read failed",
			zap.Error(err),
			zap.String("kind", kind),
			zap.String("id", id),
		)
		return false, err
	}

	if err := json.Unmarshal([]byte(val), dst); err != nil {
		c.logger.Warn("entity cache entry corrupt, treating as miss",
			zap.Error(err),
			zap.String("kind", kind),
			zap.String("id", id),
		)
		return false, err
	}

	return true, nil
}

func (c *CachedSource) store(ctx context.Context, kind, id string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("entity cache marshal failed", zap.Error(err))
		return
	}

	if err := c.client.rdb.Set(ctx, entityKey(kind, id), data, c.ttl).Err(); err != nil {
		c.logger.Warn("entity cache write failed",
			zap.Error(err),
			zap.String("kind", kind),
			zap.String("id", id),
		)
	}
}
