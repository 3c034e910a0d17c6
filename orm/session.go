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
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/tomoncle/datajpa/cache"
	"github.com/tomoncle/datajpa/entity"
	"github.com/tomoncle/datajpa/utils"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type entryState int

const (
	stateManaged entryState = iota
	stateRemoved
)

type entry struct {
	e        entity.Entity
	snapshot any
	readOnly bool
	// force marks a merged instance whose database state is unknown.
	force bool
	state entryState
}

// Session is a unit of work bound to one transaction. It keeps one instance
// per entity key, detects changes by snapshot comparison and writes them on
// Flush. A Session is not safe for concurrent use.
type Session struct {
	id      string
	factory *SessionFactory
	tx      bun.Tx
	open    bool
	// wrote is set once the transaction contains writes; from then on the
	// second-level cache is bypassed.
	wrote bool

	entries map[entity.Key]*entry
	order   []entity.Key
	inserts []entity.Entity
	refs    map[entity.Key]struct{}
	// binding holds the rows whose associations are being bound, so that
	// cyclic object graphs are walked once.
	binding map[entity.Entity]struct{}

	// Cache entries dropped during the transaction are dropped again after
	// commit: a concurrent reader may have cached the old row meanwhile.
	staleKeys    map[entity.Key]struct{}
	staleRegions map[string]struct{}

	// release returns a connection pinned for the session, see
	// SessionFactory.OpenSession.
	release func()
}

var _ entity.Scope = (*Session)(nil)

func newSession(id string, f *SessionFactory, tx bun.Tx) *Session {
	return &Session{
		id:      id,
		factory: f,
		tx:      tx,
		open:    true,
		entries: make(map[entity.Key]*entry),
		refs:    make(map[entity.Key]struct{}),
		binding: make(map[entity.Entity]struct{}),

		staleKeys:    make(map[entity.Key]struct{}),
		staleRegions: make(map[string]struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) IsOpen() bool { return s.open }

// IDB exposes the session transaction for queries.
func (s *Session) IDB() bun.IDB { return s.tx }

func (s *Session) Dialect() dialect.Name { return s.factory.db.Dialect().Name() }

// Attached reports whether owner is tracked by this open session.
func (s *Session) Attached(owner entity.Key) bool {
	if !s.open {
		return false
	}
	if e, ok := s.entries[owner]; ok {
		return e.state == stateManaged
	}
	_, ok := s.refs[owner]
	return ok
}

// Contains reports whether e is the managed instance for its key.
func (s *Session) Contains(e entity.Entity) bool {
	if !s.open || e == nil {
		return false
	}
	en, ok := s.entries[entity.KeyOf(e)]
	return ok && en.e == e && en.state == stateManaged
}

// Manage registers a freshly read entity and returns the canonical
// instance for its key. A tracked instance keeps its in-memory state.
// Entities without an id are returned untouched.
func (s *Session) Manage(e entity.Entity) entity.Entity {
	return s.manage(e, false)
}

func (s *Session) manage(e entity.Entity, readOnly bool) entity.Entity {
	if e == nil || reflect.ValueOf(e).IsNil() || !s.open || e.GetID() == 0 {
		return e
	}
	key := entity.KeyOf(e)
	if en, ok := s.entries[key]; ok {
		if en.e != e {
			s.bind(en.e, e)
		}
		return en.e
	}
	en := &entry{e: e, readOnly: readOnly}
	s.entries[key] = en
	s.order = append(s.order, key)
	delete(s.refs, key)
	s.bind(e, e)
	if !readOnly {
		en.snapshot = e.Snapshot()
	}
	return e
}

func (s *Session) bind(managed, fetched entity.Entity) {
	a, ok := managed.(entity.Associated)
	if !ok {
		return
	}
	if _, busy := s.binding[fetched]; busy {
		return
	}
	s.binding[fetched] = struct{}{}
	defer delete(s.binding, fetched)
	a.BindAssociations(s, fetched)
}

// Load returns the managed instance of proto's type for id, reading it
// when the session does not track it yet.
func (s *Session) Load(ctx context.Context, proto entity.Entity, id int64) (entity.Entity, error) {
	if !s.open {
		return nil, ErrSessionClosed
	}
	key := entity.Key{Name: proto.EntityName(), ID: id}
	if en, ok := s.entries[key]; ok {
		if en.state == stateRemoved {
			return nil, fmt.Errorf("%w: %s was removed", ErrNotFound, key)
		}
		return en.e, nil
	}
	fresh := newInstance(proto)
	fresh.SetID(id)
	if err := s.read(ctx, key, fresh); err != nil {
		return nil, err
	}
	return s.manage(fresh, false), nil
}

func (s *Session) read(ctx context.Context, key entity.Key, dst entity.Entity) error {
	load := func(ctx context.Context) (any, error) {
		err := s.tx.NewSelect().Model(dst).WherePK().Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return dst, nil
	}
	if region := s.region(key.Name); region != nil && !s.wrote {
		found, err := region.GetOrLoad(ctx, key.ID, dst, load)
		if err != nil {
			return Translate(err)
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil
	}
	v, err := load(ctx)
	if err != nil {
		return Translate(err)
	}
	if v == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// reference registers key as reachable so that a reference handed out for
// it can be resolved while the session is open.
func (s *Session) reference(key entity.Key) {
	if _, ok := s.entries[key]; !ok {
		s.refs[key] = struct{}{}
	}
}

// Persist schedules a new entity for insertion. Persisting an entity that
// already has an id attaches it instead, see Merge.
func (s *Session) Persist(e entity.Entity) error {
	if !s.open {
		return ErrSessionClosed
	}
	if e.GetID() != 0 {
		if en, ok := s.entries[entity.KeyOf(e)]; ok && en.e == e {
			en.state = stateManaged
			return nil
		}
		return fmt.Errorf("persist %s: entity already has an id, use Merge", entity.KeyOf(e))
	}
	for _, pending := range s.inserts {
		if pending == e {
			return nil
		}
	}
	s.inserts = append(s.inserts, e)
	return nil
}

// Merge attaches an entity read elsewhere. Its state is written on the next
// flush unless the session already tracks another instance for the key, in
// which case that instance takes e's state.
func (s *Session) Merge(e entity.Entity) (entity.Entity, error) {
	if !s.open {
		return nil, ErrSessionClosed
	}
	if e.GetID() == 0 {
		return e, s.Persist(e)
	}
	key := entity.KeyOf(e)
	if en, ok := s.entries[key]; ok {
		if en.e != e {
			copyState(en.e, e)
			s.bind(en.e, e)
		}
		en.state = stateManaged
		return en.e, nil
	}
	s.entries[key] = &entry{e: e, force: true}
	s.order = append(s.order, key)
	delete(s.refs, key)
	s.bind(e, e)
	return e, nil
}

// Remove schedules deletion of a managed entity, or cancels a pending
// insert.
func (s *Session) Remove(e entity.Entity) error {
	if !s.open {
		return ErrSessionClosed
	}
	for i, pending := range s.inserts {
		if pending == e {
			s.inserts = append(s.inserts[:i], s.inserts[i+1:]...)
			return nil
		}
	}
	en, ok := s.entries[entity.KeyOf(e)]
	if !ok || en.e != e {
		return fmt.Errorf("remove %s: %w", entity.KeyOf(e), ErrDetached)
	}
	en.state = stateRemoved
	return nil
}

// Evict detaches one entity.
func (s *Session) Evict(e entity.Entity) {
	key := entity.KeyOf(e)
	if en, ok := s.entries[key]; ok && en.e == e {
		delete(s.entries, key)
		s.dropOrder(key)
	}
}

// Detach forgets key, whether it names a managed entity or an unresolved
// reference. References to it can no longer be resolved.
func (s *Session) Detach(key entity.Key) {
	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		s.dropOrder(key)
	}
	delete(s.refs, key)
}

// Invalidate records writes issued on the session transaction outside the
// unit of work, e.g. by a generic repository. Tracked instances of ids are
// detached and their cached copies dropped; without ids the whole cache
// region of name is dropped.
func (s *Session) Invalidate(ctx context.Context, name string, ids ...int64) {
	if !s.open {
		return
	}
	s.wrote = true
	if len(ids) == 0 {
		s.clearRegion(ctx, name)
		return
	}
	for _, id := range ids {
		key := entity.Key{Name: name, ID: id}
		s.Detach(key)
		s.evictCached(ctx, key)
	}
}

// Clear detaches every entity and forgets pending inserts.
func (s *Session) Clear() {
	s.entries = make(map[entity.Key]*entry)
	s.refs = make(map[entity.Key]struct{})
	s.order = nil
	s.inserts = nil
}

func (s *Session) dropOrder(key entity.Key) {
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Flush writes pending changes: inserts, then updates of dirty entities,
// then deletes. Errors are translated; the transaction stays open.
func (s *Session) Flush(ctx context.Context) error {
	if !s.open {
		return ErrSessionClosed
	}
	start := time.Now()
	inserted, err := s.flushInserts(ctx)
	if err != nil {
		return Translate(err)
	}
	updated, err := s.flushUpdates(ctx)
	if err != nil {
		return Translate(err)
	}
	deleted, err := s.flushDeletes(ctx)
	if err != nil {
		return Translate(err)
	}
	if inserted+updated+deleted > 0 {
		s.factory.logger.Debug("Session flushed",
			"session", s.id,
			"inserted", inserted,
			"updated", updated,
			"deleted", deleted,
			"elapsed", utils.Elapsed(start),
		)
	}
	return nil
}

func (s *Session) flushInserts(ctx context.Context) (int, error) {
	pending := s.inserts
	sort.SliceStable(pending, func(i, j int) bool {
		return s.factory.priority(pending[i]) < s.factory.priority(pending[j])
	})
	n := 0
	for len(pending) > 0 {
		e := pending[0]
		if fa, ok := e.(entity.FlushAware); ok {
			if err := fa.BeforeFlush(); err != nil {
				return n, err
			}
		}
		for _, h := range s.factory.hooks {
			if err := h.PrePersist(ctx, e); err != nil {
				return n, err
			}
		}
		if _, err := s.tx.NewInsert().Model(e).Exec(ctx); err != nil {
			return n, fmt.Errorf("insert %s: %w", e.EntityName(), err)
		}
		s.wrote = true
		pending = pending[1:]
		s.inserts = pending
		s.manage(e, false)
		n++
	}
	s.inserts = nil
	return n, nil
}

func (s *Session) flushUpdates(ctx context.Context) (int, error) {
	n := 0
	for _, key := range s.order {
		en := s.entries[key]
		if en == nil || en.state != stateManaged || en.readOnly {
			continue
		}
		if fa, ok := en.e.(entity.FlushAware); ok {
			if err := fa.BeforeFlush(); err != nil {
				return n, err
			}
		}
		current := en.e.Snapshot()
		if !en.force && reflect.DeepEqual(current, en.snapshot) {
			continue
		}
		for _, h := range s.factory.hooks {
			if err := h.PreUpdate(ctx, en.e); err != nil {
				return n, err
			}
		}
		q := s.tx.NewUpdate().Model(en.e).WherePK()
		if _, ok := en.e.(entity.Auditable); ok {
			q = q.ExcludeColumn(entity.CreationColumns...)
		}
		if _, err := q.Exec(ctx); err != nil {
			return n, fmt.Errorf("update %s: %w", key, err)
		}
		s.wrote = true
		en.snapshot, en.force = current, false
		s.evictCached(ctx, key)
		n++
	}
	return n, nil
}

func (s *Session) flushDeletes(ctx context.Context) (int, error) {
	n := 0
	for _, key := range append([]entity.Key(nil), s.order...) {
		en := s.entries[key]
		if en == nil || en.state != stateRemoved {
			continue
		}
		if _, err := s.tx.NewDelete().Model(en.e).WherePK().Exec(ctx); err != nil {
			return n, fmt.Errorf("delete %s: %w", key, err)
		}
		s.wrote = true
		delete(s.entries, key)
		s.dropOrder(key)
		s.evictCached(ctx, key)
		n++
	}
	return n, nil
}

// BulkUpdate flushes pending changes, runs exec and then detaches every
// entity and clears the cache region of name, since exec bypasses the
// identity map.
func (s *Session) BulkUpdate(ctx context.Context, name string, exec func(ctx context.Context, db bun.IDB) (sql.Result, error)) (int64, error) {
	if err := s.Flush(ctx); err != nil {
		return 0, err
	}
	res, err := exec(ctx, s.tx)
	if err != nil {
		return 0, Translate(err)
	}
	s.wrote = true
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.Clear()
	s.clearRegion(ctx, name)
	return affected, nil
}

// Commit flushes, commits and closes the session. On failure the
// transaction is rolled back.
func (s *Session) Commit(ctx context.Context) error {
	if !s.open {
		return ErrSessionClosed
	}
	if err := s.Flush(ctx); err != nil {
		s.Close()
		return err
	}
	err := s.tx.Commit()
	if err == nil {
		s.dropStale(ctx)
	}
	s.detach()
	if err != nil {
		return Translate(err)
	}
	return nil
}

// Rollback discards the transaction and closes the session.
func (s *Session) Rollback() error {
	if !s.open {
		return ErrSessionClosed
	}
	err := s.tx.Rollback()
	s.detach()
	return err
}

// Close rolls back an open session without flushing. It is safe to call
// more than once.
func (s *Session) Close() {
	if !s.open {
		return
	}
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.factory.logger.Warn("Rollback on close failed", "session", s.id, "error", err)
	}
	s.detach()
}

func (s *Session) detach() {
	s.open = false
	s.Clear()
	s.staleKeys = make(map[entity.Key]struct{})
	s.staleRegions = make(map[string]struct{})
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

func (s *Session) region(name string) *cache.Region {
	if s.factory.regions == nil {
		return nil
	}
	return s.factory.regions.Region(name)
}

func (s *Session) evictCached(ctx context.Context, key entity.Key) {
	region := s.region(key.Name)
	if region == nil {
		return
	}
	s.staleKeys[key] = struct{}{}
	if err := region.Evict(ctx, key.ID); err != nil {
		s.factory.logger.Warn("Failed to evict cache entry", "key", key.String(), "error", err)
	}
}

func (s *Session) clearRegion(ctx context.Context, name string) {
	region := s.region(name)
	if region == nil {
		return
	}
	s.staleRegions[name] = struct{}{}
	if _, err := region.Clear(ctx); err != nil {
		s.factory.logger.Warn("Failed to clear cache region", "region", name, "error", err)
	}
}

// dropStale repeats the evictions of the committed transaction.
func (s *Session) dropStale(ctx context.Context) {
	for name := range s.staleRegions {
		if _, err := s.region(name).Clear(ctx); err != nil {
			s.factory.logger.Warn("Failed to clear cache region", "region", name, "error", err)
		}
	}
	for key := range s.staleKeys {
		if _, cleared := s.staleRegions[key.Name]; cleared {
			continue
		}
		if err := s.region(key.Name).Evict(ctx, key.ID); err != nil {
			s.factory.logger.Warn("Failed to evict cache entry", "key", key.String(), "error", err)
		}
	}
}

func newInstance(proto entity.Entity) entity.Entity {
	return reflect.New(reflect.TypeOf(proto).Elem()).Interface().(entity.Entity)
}

// copyState copies the exported fields of src into dst, both pointers to
// the same struct type.
func copyState(dst, src entity.Entity) {
	dv := reflect.ValueOf(dst).Elem()
	sv := reflect.ValueOf(src).Elem()
	for i := 0; i < dv.NumField(); i++ {
		if dv.Type().Field(i).IsExported() {
			dv.Field(i).Set(sv.Field(i))
		}
	}
}
