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

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectsteer/steer/internal/fixture"
	"github.com/projectsteer/steer/internal/model"
)

func testOptions() Options {
	return Options{
		AvailablePolicies: []model.LoadBalancerPolicy{
			model.LoadBalancerPolicyRoundRobin,
			model.LoadBalancerPolicyLeastRequest,
			model.LoadBalancerPolicyRandom,
			model.LoadBalancerPolicyRingHash,
		},
		DefaultPolicy:    model.LoadBalancerPolicyRoundRobin,
		SupportedMethods: []string{"GET", "POST", "PUT", "DELETE"},
	}
}

func testStore(t *testing.T) *Store {
	return New(fixture.NewTestLogger(t), testOptions())
}

func httpbinCluster() model.Cluster {
	return model.Cluster{
		Name: "httpbin-service",
		Endpoints: []model.Endpoint{
			{Host: "httpbin.org", Port: 80},
		},
	}
}

func TestCreateCluster(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.CreateCluster(httpbinCluster()))

	got, err := s.GetCluster("httpbin-service")
	require.NoError(t, err)
	assert.Equal(t, "httpbin-service", got.Name)
	// The default policy is applied on create.
	assert.Equal(t, model.LoadBalancerPolicyRoundRobin, got.LBPolicy)

	assert.Equal(t, uint64(1), s.Version())
}

func TestCreateClusterDuplicateName(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.CreateCluster(httpbinCluster()))
	err := s.CreateCluster(httpbinCluster())
	assert.ErrorIs(t, err, ErrClusterExists)

	// The failed mutation must not bump the version.
	assert.Equal(t, uint64(1), s.Version())
}

func TestCreateClusterInvalid(t *testing.T) {
	s := testStore(t)

	c := httpbinCluster()
	c.Endpoints = nil
	err := s.CreateCluster(c)

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, uint64(0), s.Version())
}

func TestUpdateCluster(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.CreateCluster(httpbinCluster()))

	policy := model.LoadBalancerPolicyRandom
	got, err := s.UpdateCluster("httpbin-service", ClusterUpdate{
		Endpoints: []model.Endpoint{
			{Host: "httpbin.org", Port: 80},
			{Host: "httpbin.org", Port: 8080},
		},
		LBPolicy: &policy,
	})
	require.NoError(t, err)
	assert.Len(t, got.Endpoints, 2)
	assert.Equal(t, model.LoadBalancerPolicyRandom, got.LBPolicy)
	assert.Equal(t, uint64(2), s.Version())
}

func TestUpdateClusterPartial(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.CreateCluster(httpbinCluster()))

	// A nil endpoints field keeps the stored endpoints.
	policy := model.LoadBalancerPolicyLeastRequest
	got, err := s.UpdateCluster("httpbin-service", ClusterUpdate{LBPolicy: &policy})
	require.NoError(t, err)
	assert.Len(t, got.Endpoints, 1)
	assert.Equal(t, model.LoadBalancerPolicyLeastRequest, got.LBPolicy)
}

func TestUpdateClusterNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.UpdateCluster("missing", ClusterUpdate{})
	assert.ErrorIs(t, err, ErrClusterNotFound)
}

func TestDeleteClusterLeavesDanglingRoutes(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.CreateCluster(httpbinCluster()))

	id, err := s.CreateRoute(model.Route{Path: "/get", ClusterName: "httpbin-service"})
	require.NoError(t, err)

	// Deletion does not cascade; the route survives with a dangling
	// cluster reference.
	require.NoError(t, s.DeleteCluster("httpbin-service"))

	_, err = s.GetCluster("httpbin-service")
	assert.ErrorIs(t, err, ErrClusterNotFound)

	got, err := s.GetRoute(id)
	require.NoError(t, err)
	assert.Equal(t, "httpbin-service", got.ClusterName)
}

func TestCreateRouteGeneratesID(t *testing.T) {
	s := testStore(t)

	id1, err := s.CreateRoute(model.Route{Path: "/get", ClusterName: "a"})
	require.NoError(t, err)
	id2, err := s.CreateRoute(model.Route{Path: "/post", ClusterName: "b"})
	require.NoError(t, err)

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)

	routes := s.ListRoutes()
	require.Len(t, routes, 2)
	// Insertion order is preserved.
	assert.Equal(t, "/get", routes[0].Path)
	assert.Equal(t, "/post", routes[1].Path)
}

func TestUpdateRoute(t *testing.T) {
	s := testStore(t)
	id, err := s.CreateRoute(model.Route{Path: "/get", ClusterName: "a"})
	require.NoError(t, err)

	path := "/anything"
	got, err := s.UpdateRoute(id, RouteUpdate{
		Path:        &path,
		HTTPMethods: []string{"GET"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/anything", got.Path)
	assert.Equal(t, "a", got.ClusterName)
	assert.Equal(t, []string{"GET"}, got.HTTPMethods)
}

func TestDeleteRoute(t *testing.T) {
	s := testStore(t)
	id, err := s.CreateRoute(model.Route{Path: "/get", ClusterName: "a"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteRoute(id))
	assert.ErrorIs(t, s.DeleteRoute(id), ErrRouteNotFound)
}

func TestVersionMonotonicity(t *testing.T) {
	s := testStore(t)

	var versions []uint64
	versions = append(versions, s.Version())

	require.NoError(t, s.CreateCluster(httpbinCluster()))
	versions = append(versions, s.Version())

	id, err := s.CreateRoute(model.Route{Path: "/get", ClusterName: "httpbin-service"})
	require.NoError(t, err)
	versions = append(versions, s.Version())

	require.NoError(t, s.DeleteRoute(id))
	versions = append(versions, s.Version())

	require.NoError(t, s.DeleteCluster("httpbin-service"))
	versions = append(versions, s.Version())

	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
}

func TestSnapshotConsistency(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.CreateCluster(httpbinCluster()))

	// A snapshot taken before a mutation must not observe it.
	before := s.Snapshot()

	_, err := s.CreateRoute(model.Route{Path: "/get", ClusterName: "httpbin-service"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), before.Version)
	assert.Empty(t, before.Routes)

	after := s.Snapshot()
	assert.Equal(t, uint64(2), after.Version)
	assert.Len(t, after.Routes, 1)
}

func TestPerTypeVersions(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.CreateCluster(httpbinCluster()))
	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.ClustersVersion)
	assert.Equal(t, uint64(0), snap.RoutesVersion)

	// A route mutation moves only the route set's version.
	id, err := s.CreateRoute(model.Route{Path: "/get", ClusterName: "httpbin-service"})
	require.NoError(t, err)
	snap = s.Snapshot()
	assert.Equal(t, uint64(1), snap.ClustersVersion)
	assert.Equal(t, uint64(2), snap.RoutesVersion)

	policy := model.LoadBalancerPolicyRandom
	_, err = s.UpdateCluster("httpbin-service", ClusterUpdate{LBPolicy: &policy})
	require.NoError(t, err)
	snap = s.Snapshot()
	assert.Equal(t, uint64(3), snap.ClustersVersion)
	assert.Equal(t, uint64(2), snap.RoutesVersion)

	require.NoError(t, s.DeleteRoute(id))
	snap = s.Snapshot()
	assert.Equal(t, uint64(3), snap.ClustersVersion)
	assert.Equal(t, uint64(4), snap.RoutesVersion)
}

func TestWatcherNotify(t *testing.T) {
	s := testStore(t)
	w := s.Subscribe()
	defer w.Close()

	require.NoError(t, s.CreateCluster(httpbinCluster()))

	ev := <-w.Changes()
	assert.Equal(t, uint64(1), ev.Version)
}

func TestWatcherCoalescing(t *testing.T) {
	s := testStore(t)
	w := s.Subscribe()
	defer w.Close()

	// Three mutations land while the subscriber sleeps; only the
	// latest version is observable.
	require.NoError(t, s.CreateCluster(httpbinCluster()))
	_, err := s.CreateRoute(model.Route{Path: "/get", ClusterName: "httpbin-service"})
	require.NoError(t, err)
	_, err = s.CreateRoute(model.Route{Path: "/post", ClusterName: "httpbin-service"})
	require.NoError(t, err)

	ev := <-w.Changes()
	assert.Equal(t, uint64(3), ev.Version)

	select {
	case ev := <-w.Changes():
		t.Fatalf("unexpected queued event for version %d", ev.Version)
	default:
	}
}

func TestWatcherClose(t *testing.T) {
	s := testStore(t)
	w := s.Subscribe()
	w.Close()

	require.NoError(t, s.CreateCluster(httpbinCluster()))

	select {
	case ev := <-w.Changes():
		t.Fatalf("closed watcher received event for version %d", ev.Version)
	default:
	}
}
