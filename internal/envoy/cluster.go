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
	"time"

	envoy_cluster_v3 "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	envoy_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_endpoint_v3 "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"

	"github.com/projectsteer/steer/internal/model"
	"github.com/projectsteer/steer/internal/protobuf"
)

// Cluster creates a new envoy_cluster_v3.Cluster from a model.Cluster.
// Endpoints are embedded inline; discovery is always STRICT_DNS so
// Envoy resolves the endpoint hostnames itself.
func Cluster(c *model.Cluster, connectTimeout time.Duration, dnsLookupFamily string) *envoy_cluster_v3.Cluster {
	cluster := &envoy_cluster_v3.Cluster{
		Name:                 c.Name,
		ClusterDiscoveryType: ClusterDiscoveryType(envoy_cluster_v3.Cluster_STRICT_DNS),
		LbPolicy:             LBPolicy(c.LBPolicy),
		ConnectTimeout:       protobuf.Duration(connectTimeout),
		DnsLookupFamily:      DNSLookupFamily(dnsLookupFamily),
		LoadAssignment:       ClusterLoadAssignment(c),
	}

	if c.TLSEnabled() {
		// SNI follows the first endpoint host; validation guarantees
		// a uniform tls_enabled setting across the cluster.
		cluster.TransportSocket = UpstreamTLSTransportSocket(
			UpstreamTLSContext(c.Endpoints[0].Host),
		)
	}

	return cluster
}

// ClusterLoadAssignment returns a *envoy_endpoint_v3.ClusterLoadAssignment
// with a single locality containing the cluster's endpoint addresses
// in insertion order.
func ClusterLoadAssignment(c *model.Cluster) *envoy_endpoint_v3.ClusterLoadAssignment {
	if len(c.Endpoints) == 0 {
		return &envoy_endpoint_v3.ClusterLoadAssignment{ClusterName: c.Name}
	}

	addrs := make([]*envoy_core_v3.Address, 0, len(c.Endpoints))
	for _, e := range c.Endpoints {
		addrs = append(addrs, SocketAddress(e.Host, e.Port))
	}

	return &envoy_endpoint_v3.ClusterLoadAssignment{
		ClusterName: c.Name,
		Endpoints:   Endpoints(addrs...),
	}
}

// ClusterDiscoveryType returns the type of a ClusterDiscovery as a
// Cluster_Type.
func ClusterDiscoveryType(t envoy_cluster_v3.Cluster_DiscoveryType) *envoy_cluster_v3.Cluster_Type {
	return &envoy_cluster_v3.Cluster_Type{Type: t}
}

// LBPolicy maps a model load balancer policy onto the wire enum.
// Unset values fall back to ROUND_ROBIN.
func LBPolicy(policy model.LoadBalancerPolicy) envoy_cluster_v3.Cluster_LbPolicy {
	switch policy {
	case model.LoadBalancerPolicyLeastRequest:
		return envoy_cluster_v3.Cluster_LEAST_REQUEST
	case model.LoadBalancerPolicyRandom:
		return envoy_cluster_v3.Cluster_RANDOM
	case model.LoadBalancerPolicyRingHash:
		return envoy_cluster_v3.Cluster_RING_HASH
	default:
		return envoy_cluster_v3.Cluster_ROUND_ROBIN
	}
}

// DNSLookupFamily parses a configured DNS lookup family name,
// defaulting to V4_ONLY for unrecognized values.
func DNSLookupFamily(family string) envoy_cluster_v3.Cluster_DnsLookupFamily {
	switch family {
	case "AUTO":
		return envoy_cluster_v3.Cluster_AUTO
	case "V6_ONLY":
		return envoy_cluster_v3.Cluster_V6_ONLY
	default:
		return envoy_cluster_v3.Cluster_V4_ONLY
	}
}
