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

package xds

import (
	"context"
	"fmt"

	envoy_service_cluster_v3 "github.com/envoyproxy/go-control-plane/envoy/service/cluster/v3"
	envoy_service_discovery_v3 "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	envoy_service_endpoint_v3 "github.com/envoyproxy/go-control-plane/envoy/service/endpoint/v3"
	envoy_service_route_v3 "github.com/envoyproxy/go-control-plane/envoy/service/route/v3"
	resource "github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/projectsteer/steer/internal/envoy"
	"github.com/projectsteer/steer/internal/metrics"
	"github.com/projectsteer/steer/internal/store"
)

type grpcStream interface {
	Context() context.Context
	Send(*envoy_service_discovery_v3.DiscoveryResponse) error
	Recv() (*envoy_service_discovery_v3.DiscoveryRequest, error)
}

// Server is a collection of handlers for streaming discovery requests.
type Server interface {
	envoy_service_discovery_v3.AggregatedDiscoveryServiceServer
	envoy_service_cluster_v3.ClusterDiscoveryServiceServer
	envoy_service_endpoint_v3.EndpointDiscoveryServiceServer
	envoy_service_route_v3.RouteDiscoveryServiceServer
}

// RegisterServer registers the given xDS protocol Server with the gRPC
// runtime.
func RegisterServer(srv Server, g *grpc.Server) {
	envoy_service_discovery_v3.RegisterAggregatedDiscoveryServiceServer(g, srv)
	envoy_service_cluster_v3.RegisterClusterDiscoveryServiceServer(g, srv)
	envoy_service_endpoint_v3.RegisterEndpointDiscoveryServiceServer(g, srv)
	envoy_service_route_v3.RegisterRouteDiscoveryServiceServer(g, srv)
}

// NewGRPCServer returns a new grpc.Server. If registry is non-nil gRPC
// server metrics will be automatically configured and enabled.
func NewGRPCServer(registry *prometheus.Registry, opts ...grpc.ServerOption) *grpc.Server {
	var serverMetrics *grpc_prometheus.ServerMetrics

	if registry != nil {
		serverMetrics = grpc_prometheus.NewServerMetrics()
		registry.MustRegister(serverMetrics)

		opts = append(opts,
			grpc.StreamInterceptor(serverMetrics.StreamServerInterceptor()),
			grpc.UnaryInterceptor(serverMetrics.UnaryServerInterceptor()),
		)
	}

	g := grpc.NewServer(opts...)

	if serverMetrics != nil {
		serverMetrics.InitializeMetrics(g)
	}

	return g
}

// NewDiscoveryServer creates a Server that streams resources projected
// from the store. The returned Server implements the xDS State of the
// World (SotW) variant over ADS and the single-type cluster and route
// streams.
func NewDiscoveryServer(log logrus.FieldLogger, st *store.Store, projector *envoy.Projector, m *metrics.Metrics) Server {
	return &discoveryServer{
		FieldLogger: log,
		store:       st,
		projector:   projector,
		metrics:     m,
	}
}

type discoveryServer struct {
	// Since we only implement the streaming state of the world
	// protocol, embed the default null implementations to handle
	// the unimplemented gRPC endpoints.
	envoy_service_discovery_v3.UnimplementedAggregatedDiscoveryServiceServer
	envoy_service_cluster_v3.UnimplementedClusterDiscoveryServiceServer
	envoy_service_endpoint_v3.UnimplementedEndpointDiscoveryServiceServer
	envoy_service_route_v3.UnimplementedRouteDiscoveryServiceServer

	logrus.FieldLogger
	store       *store.Store
	projector   *envoy.Projector
	metrics     *metrics.Metrics
	connections Counter
}

// stream processes a stream of DiscoveryRequests restricted to the
// given set of type URLs.
func (s *discoveryServer) stream(st grpcStream, typeURLs ...string) error {
	log := s.WithField("connection", s.connections.Next())

	if s.metrics != nil {
		s.metrics.StreamOpened()
		defer s.metrics.StreamClosed()
	}

	sess := newSession(log, s.store, s.projector, s.metrics, st, typeURLs)
	return sess.run()
}

func (s *discoveryServer) StreamAggregatedResources(srv envoy_service_discovery_v3.AggregatedDiscoveryService_StreamAggregatedResourcesServer) error {
	return s.stream(srv, resource.ClusterType, resource.EndpointType, resource.RouteType)
}

func (s *discoveryServer) StreamClusters(srv envoy_service_cluster_v3.ClusterDiscoveryService_StreamClustersServer) error {
	return s.stream(srv, resource.ClusterType)
}

func (s *discoveryServer) StreamEndpoints(srv envoy_service_endpoint_v3.EndpointDiscoveryService_StreamEndpointsServer) error {
	return s.stream(srv, resource.EndpointType)
}

func (s *discoveryServer) StreamRoutes(srv envoy_service_route_v3.RouteDiscoveryService_StreamRoutesServer) error {
	return s.stream(srv, resource.RouteType)
}

// logDiscoveryRequestDetails returns a logger annotated with the
// request's protocol bookkeeping fields.
func logDiscoveryRequestDetails(l logrus.FieldLogger, req *envoy_service_discovery_v3.DiscoveryRequest) logrus.FieldLogger {
	log := l.WithField("version_info", req.VersionInfo).WithField("response_nonce", req.ResponseNonce)
	if req.Node != nil {
		log = log.WithField("node_id", req.Node.Id)

		if bv := req.Node.GetUserAgentBuildVersion(); bv != nil && bv.Version != nil {
			log = log.WithField("node_version", fmt.Sprintf("v%d.%d.%d", bv.Version.MajorNumber, bv.Version.MinorNumber, bv.Version.Patch))
		}
	}

	log = log.WithField("resource_names", req.ResourceNames).WithField("type_url", req.GetTypeUrl())

	log.Debug("handling v3 xDS resource request")
	return log
}
