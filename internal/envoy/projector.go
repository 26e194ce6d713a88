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
	envoy_endpoint_v3 "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	envoy_route_v3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	resource "github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"

	"github.com/projectsteer/steer/internal/protobuf"
	"github.com/projectsteer/steer/internal/store"
)

// Projector converts store snapshots into the Envoy v3 resources
// served over xDS. A Projector is immutable and safe for concurrent
// use.
type Projector struct {
	// ConnectTimeout is applied to every projected cluster.
	ConnectTimeout time.Duration

	// DNSLookupFamily names the cluster DNS lookup family, one of
	// AUTO, V4_ONLY or V6_ONLY.
	DNSLookupFamily string

	// RouteConfigName is the name of the single RouteConfiguration
	// resource.
	RouteConfigName string

	// VirtualHostName is the name of the single virtual host inside
	// the RouteConfiguration.
	VirtualHostName string

	// Domains is the virtual host domain set.
	Domains []string
}

// Resources projects the snapshot for one type URL. An unrecognized
// type URL is an error; callers decide whether that terminates the
// stream or only the request.
func (p *Projector) Resources(typeURL string, snap *store.Snapshot) ([]proto.Message, error) {
	switch typeURL {
	case resource.ClusterType:
		return protobuf.AsMessages(p.Clusters(snap)), nil
	case resource.EndpointType:
		return protobuf.AsMessages(p.ClusterLoadAssignments(snap)), nil
	case resource.RouteType:
		// Always exactly one RouteConfiguration, even when no routes
		// are stored.
		return []proto.Message{p.RouteConfiguration(snap)}, nil
	default:
		return nil, errors.Errorf("unknown type url %q", typeURL)
	}
}

// Clusters projects one Cluster resource per stored cluster, in
// insertion order.
func (p *Projector) Clusters(snap *store.Snapshot) []*envoy_cluster_v3.Cluster {
	clusters := make([]*envoy_cluster_v3.Cluster, 0, len(snap.Clusters))
	for i := range snap.Clusters {
		clusters = append(clusters, Cluster(&snap.Clusters[i], p.ConnectTimeout, p.DNSLookupFamily))
	}
	return clusters
}

// ClusterLoadAssignments projects one ClusterLoadAssignment per stored
// cluster, in insertion order.
func (p *Projector) ClusterLoadAssignments(snap *store.Snapshot) []*envoy_endpoint_v3.ClusterLoadAssignment {
	clas := make([]*envoy_endpoint_v3.ClusterLoadAssignment, 0, len(snap.Clusters))
	for i := range snap.Clusters {
		clas = append(clas, ClusterLoadAssignment(&snap.Clusters[i]))
	}
	return clas
}

// RouteConfiguration projects the single route configuration carrying
// every stored route under one wildcard virtual host.
func (p *Projector) RouteConfiguration(snap *store.Snapshot) *envoy_route_v3.RouteConfiguration {
	vhost := VirtualHost(
		stringOrDefault(p.VirtualHostName, "local_service"),
		p.domains(),
		snap.Routes,
	)
	return RouteConfiguration(stringOrDefault(p.RouteConfigName, "local_route"), vhost)
}

func (p *Projector) domains() []string {
	if len(p.Domains) == 0 {
		return []string{"*"}
	}
	return p.Domains
}
