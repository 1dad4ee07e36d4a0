// Package redis reads entity linking counts published to Redis.
//
// The linking service keeps one hash per scope under "linking:<scope>" with
// integer fields "linked" and "review_required".
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/poiesic/dealwire/linking"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix           = "linking:"
	fieldLinked         = "linked"
	fieldReviewRequired = "review_required"
)

// Service implements linking.Service on top of a Redis client.
type Service struct {
	client *redis.Client
	logger *slog.Logger
}

var _ linking.Service = (*Service)(nil)

// Open connects to Redis at addr and verifies the connection.
func Open(ctx context.Context, addr, password string, db int) (*Service, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(client), nil
}

// New wraps an existing client.
func New(client *redis.Client) *Service {
	return &Service{
		client: client,
		logger: slog.Default().With("component", "linking-redis"),
	}
}

// Close closes the underlying client.
func (s *Service) Close() error {
	return s.client.Close()
}

// Stats reads the counts of scope. A missing hash reports zero counts.
func (s *Service) Stats(ctx context.Context, scope string) (linking.Stats, error) {
	values, err := s.client.HMGet(ctx, keyPrefix+scope, fieldLinked, fieldReviewRequired).Result()
	if err != nil {
		return linking.Stats{}, fmt.Errorf("read linking stats of %q: %w", scope, err)
	}

	linked, err := parseCount(values[0])
	if err != nil {
		return linking.Stats{}, fmt.Errorf("linking stats of %q: %s: %w", scope, fieldLinked, err)
	}
	review, err := parseCount(values[1])
	if err != nil {
		return linking.Stats{}, fmt.Errorf("linking stats of %q: %s: %w", scope, fieldReviewRequired, err)
	}
	return linking.Stats{Linked: linked, ReviewRequired: review}, nil
}

// Publish overwrites the counts of scope.
func (s *Service) Publish(ctx context.Context, scope string, st linking.Stats) error {
	err := s.client.HSet(ctx, keyPrefix+scope,
		fieldLinked, st.Linked,
		fieldReviewRequired, st.ReviewRequired,
	).Err()
	if err != nil {
		return fmt.Errorf("publish linking stats of %q: %w", scope, err)
	}
	s.logger.Debug("linking stats published", "scope", scope, "linked", st.Linked, "review", st.ReviewRequired)
	return nil
}

func parseCount(v any) (int, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
	return strconv.Atoi(s)
}
