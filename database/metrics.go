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

package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
)

var (
	QueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datajpa_db_queries_total",
		Help: "Executed SQL statements by database type, operation and outcome",
	}, []string{"db", "operation", "status"})

	QueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "datajpa_db_query_duration_seconds",
		Help:    "SQL statement latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"db", "operation"})
)

// RegisterMetrics registers the query collectors on reg (or the default
// registerer when nil). Registering twice is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{QueriesTotal, QueryDuration} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

// MetricsHook feeds QueriesTotal and QueryDuration.
type MetricsHook struct {
	db string
}

var _ bun.QueryHook = (*MetricsHook)(nil)

func NewMetricsHook(dbType string) *MetricsHook {
	return &MetricsHook{db: dbType}
}

func (h *MetricsHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *MetricsHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	op := strings.ToLower(event.Operation())
	status := "ok"
	switch {
	case event.Err == nil, errors.Is(event.Err, sql.ErrNoRows):
	default:
		status = "error"
		if is, kind := IsSqlError(event.Err); is && (kind == LockTimeoutErr || kind == DeadlockErr) {
			status = "lock_timeout"
		}
	}
	QueriesTotal.WithLabelValues(h.db, op, status).Inc()
	QueryDuration.WithLabelValues(h.db, op).Observe(time.Since(event.StartTime).Seconds())
}
