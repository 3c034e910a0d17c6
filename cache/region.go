/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

// Requests counts region lookups by region and result (hit or miss).
var Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "datajpa_cache_requests_total",
	Help: "Second-level cache lookups by region and result",
}, []string{"region", "result"})

// RegisterMetrics registers Requests on reg, or on the default registerer
// when reg is nil.
func RegisterMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(Requests); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
	}
	return nil
}

// RegionStats are the lookup counters of one region.
type RegionStats struct {
	Name   string
	Hits   int64
	Misses int64
}

// Region is the namespace of one entity type inside a Store. Values are
// stored as JSON under "<name>:<id>".
type Region struct {
	name  string
	store Store
	ttl   time.Duration
	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

func NewRegion(name string, store Store, ttl time.Duration) *Region {
	return &Region{name: name, store: store, ttl: ttl}
}

func (r *Region) Name() string { return r.name }

func (r *Region) key(id int64) string {
	return r.name + ":" + strconv.FormatInt(id, 10)
}

// Get decodes the cached value of id into dst and reports whether it was
// present.
func (r *Region) Get(ctx context.Context, id int64, dst any) (bool, error) {
	b, err := r.store.Get(ctx, r.key(id))
	if errors.Is(err, ErrNotFound) {
		r.miss()
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", r.key(id), err)
	}
	r.hit()
	return true, nil
}

func (r *Region) Put(ctx context.Context, id int64, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", r.key(id), err)
	}
	return r.store.Set(ctx, r.key(id), b, r.ttl)
}

// GetOrLoad fills dst from the cache, or from load on a miss. Concurrent
// misses for the same id share one load. found is false when load returned
// nil.
func (r *Region) GetOrLoad(ctx context.Context, id int64, dst any, load func(ctx context.Context) (any, error)) (found bool, err error) {
	if ok, err := r.Get(ctx, id, dst); err != nil || ok {
		return ok, err
	}
	v, err, _ := r.group.Do(r.key(id), func() (interface{}, error) {
		loaded, err := load(ctx)
		if err != nil || loaded == nil {
			return nil, err
		}
		b, err := json.Marshal(loaded)
		if err != nil {
			return nil, err
		}
		if err := r.store.Set(ctx, r.key(id), b, r.ttl); err != nil {
			return nil, err
		}
		return b, nil
	})
	if err != nil || v == nil {
		return false, err
	}
	return true, json.Unmarshal(v.([]byte), dst)
}

func (r *Region) Evict(ctx context.Context, ids ...int64) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	return r.store.Delete(ctx, keys...)
}

// Clear drops every entry of the region.
func (r *Region) Clear(ctx context.Context) (int, error) {
	return r.store.DeletePrefix(ctx, r.name+":")
}

func (r *Region) Stats() RegionStats {
	return RegionStats{Name: r.name, Hits: r.hits.Load(), Misses: r.misses.Load()}
}

func (r *Region) hit() {
	r.hits.Add(1)
	Requests.WithLabelValues(r.name, "hit").Inc()
}

func (r *Region) miss() {
	r.misses.Add(1)
	Requests.WithLabelValues(r.name, "miss").Inc()
}

// Regions hands out one Region per entity name over a shared Store.
type Regions struct {
	store Store
	ttl   time.Duration

	mu      sync.Mutex
	regions map[string]*Region
}

func NewRegions(store Store, ttl time.Duration) *Regions {
	return &Regions{store: store, ttl: ttl, regions: make(map[string]*Region)}
}

func (rs *Regions) Region(name string) *Region {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.regions[name]
	if !ok {
		r = NewRegion(name, rs.store, rs.ttl)
		rs.regions[name] = r
	}
	return r
}

func (rs *Regions) Store() Store { return rs.store }

func (rs *Regions) Stats() []RegionStats {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]RegionStats, 0, len(rs.regions))
	for _, r := range rs.regions {
		out = append(out, r.Stats())
	}
	return out
}
