package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/communalgrid/communalgrid/pkg/types"
	"github.com/levenlabs/go-lflag"
	"github.com/redis/go-redis/v9"
)

// RedisProvider implements the Database interface on Redis. Each site's
// state lives under "<prefix>:<siteID>:*" keys; prices are a sorted set
// scored by slot start.
type RedisProvider struct {
	url    string
	prefix string
	client *redis.Client
}

var _ Database = (*RedisProvider)(nil)

// configuredRedis sets up flags for Redis and returns the instance.
func configuredRedis() *RedisProvider {
	r := &RedisProvider{}
	url := lflag.String("redis-url", "redis://localhost:6379/0", "Redis URL when storage-provider is redis")
	prefix := lflag.String("redis-key-prefix", "communalgrid", "Prefix for every Redis key")

	lflag.Do(func() {
		r.url = *url
		r.prefix = *prefix
	})
	return r
}

// NewRedis returns a provider for the server at url. Init must be called
// before use.
func NewRedis(url, prefix string) *RedisProvider {
	return &RedisProvider{url: url, prefix: prefix}
}

// Validate ensures the configuration is valid.
func (r *RedisProvider) Validate() error {
	if r.url == "" {
		return fmt.Errorf("redis-url is required")
	}
	if r.prefix == "" {
		return fmt.Errorf("redis-key-prefix is required")
	}
	if _, err := redis.ParseURL(r.url); err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	return nil
}

// Init connects and pings the server.
func (r *RedisProvider) Init(ctx context.Context) error {
	opts, err := redis.ParseURL(r.url)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	r.client = redis.NewClient(opts)
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *RedisProvider) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *RedisProvider) key(siteID, name string) (string, error) {
	if siteID == "" {
		return "", fmt.Errorf("siteID cannot be empty")
	}
	return r.prefix + ":" + siteID + ":" + name, nil
}

// GetSettings returns the stored settings, or empty settings at version 0.
func (r *RedisProvider) GetSettings(ctx context.Context, siteID string) (types.Settings, int, error) {
	key, err := r.key(siteID, "settings")
	if err != nil {
		return types.Settings{}, 0, err
	}
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to get settings: %w", err)
	}
	if len(fields) == 0 {
		return types.Settings{}, 0, nil
	}
	var settings types.Settings
	if err := json.Unmarshal([]byte(fields["json"]), &settings); err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	version, err := strconv.Atoi(fields["version"])
	if err != nil {
		return types.Settings{}, 0, fmt.Errorf("invalid settings version %q: %w", fields["version"], err)
	}
	return settings, version, nil
}

// SetSettings replaces the stored settings.
func (r *RedisProvider) SetSettings(ctx context.Context, siteID string, settings types.Settings, version int) error {
	key, err := r.key(siteID, "settings")
	if err != nil {
		return err
	}
	b, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := r.client.HSet(ctx, key, "json", string(b), "version", version).Err(); err != nil {
		return fmt.Errorf("failed to set settings: %w", err)
	}
	return nil
}

// GetTariff returns the stored tariff record or ErrTariffNotFound.
func (r *RedisProvider) GetTariff(ctx context.Context, siteID string) (types.TariffRecord, error) {
	key, err := r.key(siteID, "tariff")
	if err != nil {
		return types.TariffRecord{}, err
	}
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return types.TariffRecord{}, fmt.Errorf("failed to get tariff: %w", err)
	}
	if len(fields) == 0 {
		return types.TariffRecord{}, ErrTariffNotFound
	}
	rec := types.TariffRecord{
		Label:     fields["label"],
		UtilityID: fields["utilityID"],
		Document:  []byte(fields["json"]),
	}
	if v := fields["fetchedAt"]; v != "" {
		if rec.FetchedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return types.TariffRecord{}, fmt.Errorf("invalid tariff fetchedAt %q: %w", v, err)
		}
	}
	return rec, nil
}

// SaveTariff replaces the stored tariff record.
func (r *RedisProvider) SaveTariff(ctx context.Context, siteID string, record types.TariffRecord) error {
	if len(record.Document) == 0 {
		return fmt.Errorf("tariff record has no document")
	}
	key, err := r.key(siteID, "tariff")
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(
			ctx,
			key,
			"json", string(record.Document),
			"label", record.Label,
			"utilityID", record.UtilityID,
			"fetchedAt", record.FetchedAt.UTC().Format(time.RFC3339Nano),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save tariff: %w", err)
	}
	return nil
}

// GetDeviceScan returns the stored scan or ErrDeviceScanNotFound.
func (r *RedisProvider) GetDeviceScan(ctx context.Context, siteID string) (types.DeviceScan, error) {
	key, err := r.key(siteID, "devices")
	if err != nil {
		return types.DeviceScan{}, err
	}
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.DeviceScan{}, ErrDeviceScanNotFound
	}
	if err != nil {
		return types.DeviceScan{}, fmt.Errorf("failed to get device scan: %w", err)
	}
	var scan types.DeviceScan
	if err := json.Unmarshal(b, &scan); err != nil {
		return types.DeviceScan{}, fmt.Errorf("failed to unmarshal device scan: %w", err)
	}
	return scan, nil
}

// SaveDeviceScan replaces the stored scan.
func (r *RedisProvider) SaveDeviceScan(ctx context.Context, siteID string, scan types.DeviceScan) error {
	key, err := r.key(siteID, "devices")
	if err != nil {
		return err
	}
	b, err := json.Marshal(scan)
	if err != nil {
		return fmt.Errorf("failed to marshal device scan: %w", err)
	}
	if err := r.client.Set(ctx, key, b, 0).Err(); err != nil {
		return fmt.Errorf("failed to save device scan: %w", err)
	}
	return nil
}

// UpsertPrices stores prices keyed by their start time, replacing any
// price already stored for the same start.
func (r *RedisProvider) UpsertPrices(ctx context.Context, siteID string, prices []types.Price) error {
	key, err := r.key(siteID, "prices")
	if err != nil {
		return err
	}
	if len(prices) == 0 {
		return nil
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range prices {
			b, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("failed to marshal price: %w", err)
			}
			score := strconv.FormatInt(p.TSStart.Unix(), 10)
			pipe.ZRemRangeByScore(ctx, key, score, score)
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(p.TSStart.Unix()), Member: string(b)})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert prices: %w", err)
	}
	return nil
}

// GetPriceHistory returns stored prices starting in [start, end), ordered
// by start time.
func (r *RedisProvider) GetPriceHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.Price, error) {
	key, err := r.key(siteID, "prices")
	if err != nil {
		return nil, err
	}
	members, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(start.Unix(), 10),
		Max: "(" + strconv.FormatInt(end.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get price history: %w", err)
	}
	prices := make([]types.Price, 0, len(members))
	for _, m := range members {
		var p types.Price
		if err := json.Unmarshal([]byte(m), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal price: %w", err)
		}
		prices = append(prices, p)
	}
	return prices, nil
}

// GetLatestPriceHistoryTime returns the latest stored start time, or the
// zero time when nothing is stored.
func (r *RedisProvider) GetLatestPriceHistoryTime(ctx context.Context, siteID string) (time.Time, error) {
	key, err := r.key(siteID, "prices")
	if err != nil {
		return time.Time{}, err
	}
	zs, err := r.client.ZRevRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest price: %w", err)
	}
	if len(zs) == 0 {
		return time.Time{}, nil
	}
	return time.Unix(int64(zs[0].Score), 0).UTC(), nil
}
