// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cmdable is the narrow subset of *redis.Client this store depends on, so
// tests can inject a miniredis/mock client instead of a live server.
type Cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
}

// RedisStore is a Store backed by Redis, so bucket state is shared across
// every runtime replica admitting requests for the same agent (§4.4:
// rate limiting must hold across a multi-process deployment, which
// MemoryStore cannot provide).
type RedisStore struct {
	client Cmdable
	ttl    time.Duration
}

// NewRedisStore wraps an existing Redis client. ttl bounds how long an
// idle bucket's state is retained; zero disables expiration.
func NewRedisStore(client Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(agentID string, kind BucketKind) string {
	return "agentkernel:ratelimit:" + agentID + ":" + string(kind)
}

func (s *RedisStore) Get(agentID string, kind BucketKind) (BucketState, bool) {
	raw, err := s.client.Get(context.Background(), redisKey(agentID, kind)).Result()
	if err != nil {
		return BucketState{}, false
	}
	var st BucketState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return BucketState{}, false
	}
	return st, true
}

func (s *RedisStore) Set(agentID string, kind BucketKind, state BucketState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(context.Background(), redisKey(agentID, kind), payload, s.ttl).Err()
}

func (s *RedisStore) Delete(agentID string, kind BucketKind) error {
	ctx := context.Background()
	if kind != "" {
		return s.client.Del(ctx, redisKey(agentID, kind)).Err()
	}
	keys, err := s.client.Keys(ctx, redisKey(agentID, "*")).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

var _ Store = (*RedisStore)(nil)
