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

package envoy

import (
	"testing"
	"time"

	envoy_cluster_v3 "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/testing/protocmp"

	"github.com/projectsteer/steer/internal/model"
	"github.com/projectsteer/steer/internal/protobuf"
)

func TestCluster(t *testing.T) {
	c := &model.Cluster{
		Name: "httpbin-service",
		Endpoints: []model.Endpoint{
			{Host: "httpbin.org", Port: 80},
		},
		LBPolicy: model.LoadBalancerPolicyRoundRobin,
	}

	got := Cluster(c, 5*time.Second, "V4_ONLY")

	want := &envoy_cluster_v3.Cluster{
		Name:                 "httpbin-service",
		ClusterDiscoveryType: ClusterDiscoveryType(envoy_cluster_v3.Cluster_STRICT_DNS),
		LbPolicy:             envoy_cluster_v3.Cluster_ROUND_ROBIN,
		ConnectTimeout:       protobuf.Duration(5 * time.Second),
		DnsLookupFamily:      envoy_cluster_v3.Cluster_V4_ONLY,
		LoadAssignment:       ClusterLoadAssignment(c),
	}

	if diff := cmp.Diff(want, got, protocmp.Transform()); diff != "" {
		t.Fatal(diff)
	}
}

func TestClusterTLS(t *testing.T) {
	c := &model.Cluster{
		Name: "secure-service",
		Endpoints: []model.Endpoint{
			{Host: "secure.example.com", Port: 443, TLSEnabled: true},
		},
	}

	got := Cluster(c, 5*time.Second, "V4_ONLY")

	assert.NotNil(t, got.TransportSocket)
	assert.Equal(t, "envoy.transport_sockets.tls", got.TransportSocket.Name)

	want := UpstreamTLSTransportSocket(UpstreamTLSContext("secure.example.com"))
	if diff := cmp.Diff(want, got.TransportSocket, protocmp.Transform()); diff != "" {
		t.Fatal(diff)
	}
}

func TestClusterNoTLSNoTransportSocket(t *testing.T) {
	c := &model.Cluster{
		Name: "plain-service",
		Endpoints: []model.Endpoint{
			{Host: "plain.example.com", Port: 80},
		},
	}

	got := Cluster(c, 5*time.Second, "V4_ONLY")
	assert.Nil(t, got.TransportSocket)
}

func TestClusterLoadAssignment(t *testing.T) {
	c := &model.Cluster{
		Name: "httpbin-service",
		Endpoints: []model.Endpoint{
			{Host: "httpbin.org", Port: 80},
			{Host: "httpbin.org", Port: 8080},
		},
	}

	got := ClusterLoadAssignment(c)
	assert.Equal(t, "httpbin-service", got.ClusterName)

	// One locality carrying the endpoints in insertion order.
	assert.Len(t, got.Endpoints, 1)
	lbs := got.Endpoints[0].LbEndpoints
	assert.Len(t, lbs, 2)

	addr0 := lbs[0].GetEndpoint().Address.GetSocketAddress()
	assert.Equal(t, "httpbin.org", addr0.Address)
	assert.Equal(t, uint32(80), addr0.GetPortValue())

	addr1 := lbs[1].GetEndpoint().Address.GetSocketAddress()
	assert.Equal(t, uint32(8080), addr1.GetPortValue())
}

func TestClusterLoadAssignmentEmpty(t *testing.T) {
	got := ClusterLoadAssignment(&model.Cluster{Name: "empty"})
	assert.Equal(t, "empty", got.ClusterName)
	assert.Empty(t, got.Endpoints)
}

func TestLBPolicy(t *testing.T) {
	tests := map[model.LoadBalancerPolicy]envoy_cluster_v3.Cluster_LbPolicy{
		model.LoadBalancerPolicyRoundRobin:   envoy_cluster_v3.Cluster_ROUND_ROBIN,
		model.LoadBalancerPolicyLeastRequest: envoy_cluster_v3.Cluster_LEAST_REQUEST,
		model.LoadBalancerPolicyRandom:       envoy_cluster_v3.Cluster_RANDOM,
		model.LoadBalancerPolicyRingHash:     envoy_cluster_v3.Cluster_RING_HASH,
		"":                                   envoy_cluster_v3.Cluster_ROUND_ROBIN,
	}

	for policy, want := range tests {
		assert.Equal(t, want, LBPolicy(policy))
	}
}

func TestDNSLookupFamily(t *testing.T) {
	assert.Equal(t, envoy_cluster_v3.Cluster_AUTO, DNSLookupFamily("AUTO"))
	assert.Equal(t, envoy_cluster_v3.Cluster_V6_ONLY, DNSLookupFamily("V6_ONLY"))
	assert.Equal(t, envoy_cluster_v3.Cluster_V4_ONLY, DNSLookupFamily("V4_ONLY"))
	assert.Equal(t, envoy_cluster_v3.Cluster_V4_ONLY, DNSLookupFamily(""))
	assert.Equal(t, envoy_cluster_v3.Cluster_V4_ONLY, DNSLookupFamily("bogus"))
}
