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

package orm

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tomoncle/datajpa/entity"
)

// Hook runs before an entity is written. PrePersist precedes the INSERT of
// a new entity, PreUpdate the UPDATE of a dirty one. An error aborts the
// flush.
type Hook interface {
	PrePersist(ctx context.Context, e entity.Entity) error
	PreUpdate(ctx context.Context, e entity.Entity) error
}

// Clock returns the current time.
type Clock func() time.Time

// AuditorAware names the actor responsible for a write.
type AuditorAware interface {
	CurrentAuditor(ctx context.Context) string
}

// AuditorFunc adapts a function to AuditorAware.
type AuditorFunc func(ctx context.Context) string

func (f AuditorFunc) CurrentAuditor(ctx context.Context) string { return f(ctx) }

// RandomAuditor stamps every write with a fresh random UUID.
var RandomAuditor AuditorAware = AuditorFunc(func(context.Context) string {
	return uuid.NewString()
})

type actorKey struct{}

// WithActor returns a context carrying the acting user for ContextAuditor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored by WithActor.
func ActorFrom(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(actorKey{}).(string)
	return actor, ok && actor != ""
}

// ContextAuditor reads the actor from the context and falls back to
// fallback when none is set.
func ContextAuditor(fallback AuditorAware) AuditorAware {
	return AuditorFunc(func(ctx context.Context) string {
		if actor, ok := ActorFrom(ctx); ok {
			return actor
		}
		if fallback == nil {
			return ""
		}
		return fallback.CurrentAuditor(ctx)
	})
}

// AuditListener stamps Auditable entities.
type AuditListener struct {
	Auditor AuditorAware
	Now     Clock
}

var _ Hook = (*AuditListener)(nil)

func NewAuditListener(auditor AuditorAware, now Clock) *AuditListener {
	if auditor == nil {
		auditor = RandomAuditor
	}
	if now == nil {
		now = time.Now
	}
	return &AuditListener{Auditor: auditor, Now: now}
}

func (l *AuditListener) PrePersist(ctx context.Context, e entity.Entity) error {
	if a, ok := e.(entity.Auditable); ok {
		a.MarkCreated(l.Now(), l.Auditor.CurrentAuditor(ctx))
	}
	return nil
}

func (l *AuditListener) PreUpdate(ctx context.Context, e entity.Entity) error {
	if a, ok := e.(entity.Auditable); ok {
		a.MarkModified(l.Now(), l.Auditor.CurrentAuditor(ctx))
	}
	return nil
}
