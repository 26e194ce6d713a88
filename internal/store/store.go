// Copyright Project Steer Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store is the authoritative, versioned home of clusters and
// routes. Every successful mutation bumps a strictly increasing
// version and notifies subscribers. Readers take lock-free snapshots;
// each mutation publishes a fresh immutable Snapshot and atomically
// swaps a pointer, so a reader can never observe version V paired
// with a pre-V resource set.
package store

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/projectsteer/steer/internal/model"
)

var (
	ErrClusterNotFound = errors.New("cluster not found")
	ErrClusterExists   = errors.New("cluster already exists")
	ErrRouteNotFound   = errors.New("route not found")
)

// Snapshot is a consistent view of the store: the full resource sets
// paired with the version at which they were read. The contents must
// be treated as immutable.
type Snapshot struct {
	Version  uint64
	Clusters []model.Cluster
	Routes   []model.Route

	// ClustersVersion and RoutesVersion record the version at which
	// each resource set last changed, so a consumer can tell whether
	// a version bump touched the set it cares about.
	ClustersVersion uint64
	RoutesVersion   uint64
}

// Event notifies a subscriber that the store reached a new version.
// Intermediate versions may be coalesced away; the subscriber re-reads
// the store on wake.
type Event struct {
	Version uint64
}

// Options carries the configuration-derived validation sets applied
// on every mutation.
type Options struct {
	// AvailablePolicies is the permitted set for Cluster.LBPolicy.
	AvailablePolicies []model.LoadBalancerPolicy

	// DefaultPolicy is applied when a cluster omits its policy.
	DefaultPolicy model.LoadBalancerPolicy

	// SupportedMethods is the permitted set for Route.HTTPMethods.
	SupportedMethods []string
}

// Store holds the cluster and route sets. The zero value is not
// usable; construct with New.
type Store struct {
	log  logrus.FieldLogger
	opts Options

	mu       sync.Mutex // serializes writers and watcher registration
	snap     atomic.Pointer[Snapshot]
	watchers map[*Watcher]struct{}
}

// New returns an empty Store at version zero.
func New(log logrus.FieldLogger, opts Options) *Store {
	s := &Store{
		log:      log.WithField("context", "store"),
		opts:     opts,
		watchers: map[*Watcher]struct{}{},
	}
	s.snap.Store(&Snapshot{})
	return s
}

// Snapshot returns the current consistent view. The caller must not
// mutate it.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Version returns the current store version.
func (s *Store) Version() uint64 {
	return s.snap.Load().Version
}

// CreateCluster inserts a new cluster, applying the default load
// balancer policy if none is set. It fails with ErrClusterExists if
// the name is taken.
func (s *Store) CreateCluster(c model.Cluster) error {
	if err := c.Validate(s.opts.AvailablePolicies); err != nil {
		return err
	}
	if c.LBPolicy == "" {
		c.LBPolicy = s.opts.DefaultPolicy
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if _, ok := findCluster(cur.Clusters, c.Name); ok {
		return errors.Wrap(ErrClusterExists, c.Name)
	}

	next := &Snapshot{
		Clusters: append(copyClusters(cur.Clusters), c),
		Routes:   cur.Routes,
	}
	s.commit(cur, next, true)
	return nil
}

// ClusterUpdate is a partial cluster mutation. Nil fields keep the
// stored value.
type ClusterUpdate struct {
	Endpoints []model.Endpoint
	LBPolicy  *model.LoadBalancerPolicy
}

// UpdateCluster applies a partial update to the named cluster and
// returns the updated value.
func (s *Store) UpdateCluster(name string, update ClusterUpdate) (model.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	i, ok := findCluster(cur.Clusters, name)
	if !ok {
		return model.Cluster{}, errors.Wrap(ErrClusterNotFound, name)
	}

	c := cur.Clusters[i]
	if update.Endpoints != nil {
		c.Endpoints = update.Endpoints
	}
	if update.LBPolicy != nil {
		c.LBPolicy = *update.LBPolicy
		if c.LBPolicy == "" {
			c.LBPolicy = s.opts.DefaultPolicy
		}
	}
	if err := c.Validate(s.opts.AvailablePolicies); err != nil {
		return model.Cluster{}, err
	}

	clusters := copyClusters(cur.Clusters)
	clusters[i] = c
	s.commit(cur, &Snapshot{Clusters: clusters, Routes: cur.Routes}, true)
	return c, nil
}

// DeleteCluster removes the named cluster. Routes referencing it are
// left in place; the dangling reference is transmitted as-is and left
// for the proxy to classify.
func (s *Store) DeleteCluster(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	i, ok := findCluster(cur.Clusters, name)
	if !ok {
		return errors.Wrap(ErrClusterNotFound, name)
	}

	clusters := copyClusters(cur.Clusters)
	clusters = append(clusters[:i], clusters[i+1:]...)
	s.commit(cur, &Snapshot{Clusters: clusters, Routes: cur.Routes}, true)
	return nil
}

// GetCluster returns the named cluster.
func (s *Store) GetCluster(name string) (model.Cluster, error) {
	cur := s.snap.Load()
	if i, ok := findCluster(cur.Clusters, name); ok {
		return cur.Clusters[i], nil
	}
	return model.Cluster{}, errors.Wrap(ErrClusterNotFound, name)
}

// ListClusters returns all clusters in insertion order.
func (s *Store) ListClusters() []model.Cluster {
	return s.snap.Load().Clusters
}

// CreateRoute inserts a new route under a freshly generated ID, which
// is returned.
func (s *Store) CreateRoute(r model.Route) (string, error) {
	if err := r.Validate(s.opts.SupportedMethods); err != nil {
		return "", err
	}
	r.ID = uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	next := &Snapshot{
		Clusters: cur.Clusters,
		Routes:   append(copyRoutes(cur.Routes), r),
	}
	s.commit(cur, next, false)
	return r.ID, nil
}

// RouteUpdate is a partial route mutation. Nil fields keep the stored
// value.
type RouteUpdate struct {
	Path          *string
	ClusterName   *string
	PrefixRewrite *string
	HTTPMethods   []string
}

// UpdateRoute applies a partial update to the identified route and
// returns the updated value.
func (s *Store) UpdateRoute(id string, update RouteUpdate) (model.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	i, ok := findRoute(cur.Routes, id)
	if !ok {
		return model.Route{}, errors.Wrap(ErrRouteNotFound, id)
	}

	r := cur.Routes[i]
	if update.Path != nil {
		r.Path = *update.Path
	}
	if update.ClusterName != nil {
		r.ClusterName = *update.ClusterName
	}
	if update.PrefixRewrite != nil {
		r.PrefixRewrite = *update.PrefixRewrite
	}
	if update.HTTPMethods != nil {
		r.HTTPMethods = update.HTTPMethods
	}
	if err := r.Validate(s.opts.SupportedMethods); err != nil {
		return model.Route{}, err
	}

	routes := copyRoutes(cur.Routes)
	routes[i] = r
	s.commit(cur, &Snapshot{Clusters: cur.Clusters, Routes: routes}, false)
	return r, nil
}

// DeleteRoute removes the identified route.
func (s *Store) DeleteRoute(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	i, ok := findRoute(cur.Routes, id)
	if !ok {
		return errors.Wrap(ErrRouteNotFound, id)
	}

	routes := copyRoutes(cur.Routes)
	routes = append(routes[:i], routes[i+1:]...)
	s.commit(cur, &Snapshot{Clusters: cur.Clusters, Routes: routes}, false)
	return nil
}

// GetRoute returns the identified route.
func (s *Store) GetRoute(id string) (model.Route, error) {
	cur := s.snap.Load()
	if i, ok := findRoute(cur.Routes, id); ok {
		return cur.Routes[i], nil
	}
	return model.Route{}, errors.Wrap(ErrRouteNotFound, id)
}

// ListRoutes returns all routes in insertion order.
func (s *Store) ListRoutes() []model.Route {
	return s.snap.Load().Routes
}

// commit publishes next as the successor of cur and wakes every
// watcher. clustersChanged selects which per-set version advances.
// Callers hold s.mu.
func (s *Store) commit(cur, next *Snapshot, clustersChanged bool) {
	next.Version = cur.Version + 1
	if clustersChanged {
		next.ClustersVersion = next.Version
		next.RoutesVersion = cur.RoutesVersion
	} else {
		next.ClustersVersion = cur.ClustersVersion
		next.RoutesVersion = next.Version
	}
	s.snap.Store(next)

	s.log.WithField("version", next.Version).
		WithField("clusters", len(next.Clusters)).
		WithField("routes", len(next.Routes)).
		Debug("committed mutation")

	ev := Event{Version: next.Version}
	for w := range s.watchers {
		w.notify(ev)
	}
}

// Watcher delivers store change events over a single-slot channel.
// A slow subscriber observes only the latest version; intermediate
// events are overwritten, never queued.
type Watcher struct {
	s  *Store
	ch chan Event
}

// Subscribe registers a new watcher. The caller must Close it when
// done.
func (s *Store) Subscribe() *Watcher {
	w := &Watcher{s: s, ch: make(chan Event, 1)}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers[w] = struct{}{}
	return w
}

// Changes returns the event channel.
func (w *Watcher) Changes() <-chan Event {
	return w.ch
}

// Close deregisters the watcher.
func (w *Watcher) Close() {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	delete(w.s.watchers, w)
}

// notify replaces any undelivered event with the latest one. Only one
// producer runs at a time (the store's writer lock), so after the
// drain the buffered slot is guaranteed to be free.
func (w *Watcher) notify(ev Event) {
	select {
	case w.ch <- ev:
	default:
		select {
		case <-w.ch:
		default:
		}
		w.ch <- ev
	}
}

func findCluster(clusters []model.Cluster, name string) (int, bool) {
	for i := range clusters {
		if clusters[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

func findRoute(routes []model.Route, id string) (int, bool) {
	for i := range routes {
		if routes[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

func copyClusters(in []model.Cluster) []model.Cluster {
	out := make([]model.Cluster, len(in))
	copy(out, in)
	return out
}

func copyRoutes(in []model.Route) []model.Route {
	out := make([]model.Route, len(in))
	copy(out, in)
	return out
}
