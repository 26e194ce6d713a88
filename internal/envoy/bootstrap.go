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

	envoy_bootstrap_v3 "github.com/envoyproxy/go-control-plane/envoy/config/bootstrap/v3"
	envoy_cluster_v3 "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	envoy_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_endpoint_v3 "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	envoy_listener_v3 "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	envoy_route_v3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	envoy_router_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/router/v3"
	http_conn_manager_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	envoy_upstream_http_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/upstreams/http/v3"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/anypb"
	"gopkg.in/yaml.v3"

	"github.com/projectsteer/steer/internal/protobuf"
	"github.com/projectsteer/steer/internal/store"
)

// xdsClusterName is the name of the static cluster the proxy dials to
// reach this control plane.
const xdsClusterName = "steer"

// BootstrapConfig holds configuration values for a v3 Bootstrap.
type BootstrapConfig struct {
	// AdminAccessLogPath is the path to write the access log for the
	// administration server. Defaults to /dev/null.
	AdminAccessLogPath string

	// AdminAddress is the TCP address that the administration server
	// will listen on. Defaults to 127.0.0.1.
	AdminAddress string

	// AdminPort is the port that the administration server will
	// listen on. Defaults to 9901.
	AdminPort int

	// XDSAddress is the TCP address of the gRPC xDS management
	// server. Defaults to 127.0.0.1.
	XDSAddress string

	// XDSGRPCPort is the management server port that provides the v3
	// gRPC API. Defaults to 18000.
	XDSGRPCPort int

	// ListenerAddress is the bind address for the ingress listener.
	// Defaults to 0.0.0.0.
	ListenerAddress string

	// ListenerPort is the ingress listener port. Defaults to 10000.
	ListenerPort int

	// NodeID identifies the proxy to the management server. Defaults
	// to steer-node.
	NodeID string

	// NodeCluster is the proxy's cluster identity. Defaults to
	// steer-cluster.
	NodeCluster string

	// RouteConfigName is the RDS resource the ingress listener
	// subscribes to. Defaults to local_route.
	RouteConfigName string

	// VirtualHostName names the virtual host in statically generated
	// configs. Defaults to local_service.
	VirtualHostName string

	// StatPrefix is the HTTP connection manager stat prefix.
	// Defaults to ingress_http.
	StatPrefix string

	// ListenerName names the ingress listener. Defaults to listener_0.
	ListenerName string

	// XDSClusterName names the static cluster pointing at this control
	// plane. Defaults to steer.
	XDSClusterName string

	// HCMFilterName and RouterFilterName override the well-known
	// filter names; there is no reason to change them outside tests.
	HCMFilterName    string
	RouterFilterName string
}

func (c *BootstrapConfig) xdsAddress() string   { return stringOrDefault(c.XDSAddress, "127.0.0.1") }
func (c *BootstrapConfig) xdsGRPCPort() int     { return intOrDefault(c.XDSGRPCPort, 18000) }
func (c *BootstrapConfig) adminAddress() string { return stringOrDefault(c.AdminAddress, "127.0.0.1") }
func (c *BootstrapConfig) adminPort() int       { return intOrDefault(c.AdminPort, 9901) }
func (c *BootstrapConfig) adminAccessLogPath() string {
	return stringOrDefault(c.AdminAccessLogPath, "/dev/null")
}
func (c *BootstrapConfig) listenerAddress() string {
	return stringOrDefault(c.ListenerAddress, "0.0.0.0")
}
func (c *BootstrapConfig) listenerPort() int       { return intOrDefault(c.ListenerPort, 10000) }
func (c *BootstrapConfig) nodeID() string          { return stringOrDefault(c.NodeID, "steer-node") }
func (c *BootstrapConfig) nodeCluster() string     { return stringOrDefault(c.NodeCluster, "steer-cluster") }
func (c *BootstrapConfig) routeConfigName() string { return stringOrDefault(c.RouteConfigName, "local_route") }
func (c *BootstrapConfig) virtualHostName() string {
	return stringOrDefault(c.VirtualHostName, "local_service")
}
func (c *BootstrapConfig) statPrefix() string { return stringOrDefault(c.StatPrefix, "ingress_http") }
func (c *BootstrapConfig) listenerName() string {
	return stringOrDefault(c.ListenerName, "listener_0")
}
func (c *BootstrapConfig) xdsClusterName() string {
	return stringOrDefault(c.XDSClusterName, xdsClusterName)
}
func (c *BootstrapConfig) hcmFilterName() string {
	return stringOrDefault(c.HCMFilterName, "envoy.filters.network.http_connection_manager")
}
func (c *BootstrapConfig) routerFilterName() string {
	return stringOrDefault(c.RouterFilterName, "envoy.filters.http.router")
}

// Bootstrap creates a new v3 Bootstrap configuration. The proxy dials
// the static xDS cluster over h2 and pulls clusters and routes via
// ADS; only the ingress listener is static.
func Bootstrap(c *BootstrapConfig) *envoy_bootstrap_v3.Bootstrap {
	return &envoy_bootstrap_v3.Bootstrap{
		Node: &envoy_core_v3.Node{
			Id:      c.nodeID(),
			Cluster: c.nodeCluster(),
		},
		DynamicResources: &envoy_bootstrap_v3.Bootstrap_DynamicResources{
			AdsConfig: &envoy_core_v3.ApiConfigSource{
				ApiType:             envoy_core_v3.ApiConfigSource_GRPC,
				TransportApiVersion: envoy_core_v3.ApiVersion_V3,
				GrpcServices: []*envoy_core_v3.GrpcService{{
					TargetSpecifier: &envoy_core_v3.GrpcService_EnvoyGrpc_{
						EnvoyGrpc: &envoy_core_v3.GrpcService_EnvoyGrpc{
							ClusterName: c.xdsClusterName(),
						},
					},
				}},
			},
			CdsConfig: adsConfigSource(),
		},
		StaticResources: &envoy_bootstrap_v3.Bootstrap_StaticResources{
			Clusters:  []*envoy_cluster_v3.Cluster{xdsCluster(c)},
			Listeners: []*envoy_listener_v3.Listener{IngressListener(c, nil)},
		},
		Admin: &envoy_bootstrap_v3.Admin{
			AccessLogPath: c.adminAccessLogPath(),
			Address:       SocketAddress(c.adminAddress(), c.adminPort()),
		},
	}
}

// StaticConfig creates a fully static v3 Bootstrap carrying the
// current snapshot inline. No management server is referenced; the
// output is a standalone proxy config frozen at the snapshot's
// version.
func StaticConfig(c *BootstrapConfig, p *Projector, snap *store.Snapshot) *envoy_bootstrap_v3.Bootstrap {
	routeConfig := p.RouteConfiguration(snap)

	return &envoy_bootstrap_v3.Bootstrap{
		StaticResources: &envoy_bootstrap_v3.Bootstrap_StaticResources{
			Clusters:  p.Clusters(snap),
			Listeners: []*envoy_listener_v3.Listener{IngressListener(c, routeConfig)},
		},
		Admin: &envoy_bootstrap_v3.Admin{
			AccessLogPath: c.adminAccessLogPath(),
			Address:       SocketAddress(c.adminAddress(), c.adminPort()),
		},
	}
}

// IngressListener creates the ingress listener. With a nil
// routeConfig the connection manager defers to RDS over ADS;
// otherwise the route configuration is embedded inline.
func IngressListener(c *BootstrapConfig, routeConfig *envoy_route_v3.RouteConfiguration) *envoy_listener_v3.Listener {
	hcm := &http_conn_manager_v3.HttpConnectionManager{
		StatPrefix: c.statPrefix(),
		HttpFilters: []*http_conn_manager_v3.HttpFilter{{
			Name: c.routerFilterName(),
			ConfigType: &http_conn_manager_v3.HttpFilter_TypedConfig{
				TypedConfig: protobuf.MustMarshalAny(&envoy_router_v3.Router{}),
			},
		}},
	}

	if routeConfig != nil {
		hcm.RouteSpecifier = &http_conn_manager_v3.HttpConnectionManager_RouteConfig{
			RouteConfig: routeConfig,
		}
	} else {
		hcm.RouteSpecifier = &http_conn_manager_v3.HttpConnectionManager_Rds{
			Rds: &http_conn_manager_v3.Rds{
				ConfigSource:    adsConfigSource(),
				RouteConfigName: c.routeConfigName(),
			},
		}
	}

	return &envoy_listener_v3.Listener{
		Name:    c.listenerName(),
		Address: SocketAddress(c.listenerAddress(), c.listenerPort()),
		FilterChains: []*envoy_listener_v3.FilterChain{{
			Filters: []*envoy_listener_v3.Filter{{
				Name: c.hcmFilterName(),
				ConfigType: &envoy_listener_v3.Filter_TypedConfig{
					TypedConfig: protobuf.MustMarshalAny(hcm),
				},
			}},
		}},
	}
}

// xdsCluster is the static cluster the proxy uses to reach the
// management server. TCP keepalives keep long-lived idle streams from
// being reaped by intermediaries.
func xdsCluster(c *BootstrapConfig) *envoy_cluster_v3.Cluster {
	return &envoy_cluster_v3.Cluster{
		Name:                 c.xdsClusterName(),
		ConnectTimeout:       protobuf.Duration(5 * time.Second),
		ClusterDiscoveryType: ClusterDiscoveryType(envoy_cluster_v3.Cluster_STRICT_DNS),
		LbPolicy:             envoy_cluster_v3.Cluster_ROUND_ROBIN,
		LoadAssignment: &envoy_endpoint_v3.ClusterLoadAssignment{
			ClusterName: c.xdsClusterName(),
			Endpoints: Endpoints(
				SocketAddress(c.xdsAddress(), c.xdsGRPCPort()),
			),
		},
		UpstreamConnectionOptions: &envoy_cluster_v3.UpstreamConnectionOptions{
			TcpKeepalive: &envoy_core_v3.TcpKeepalive{
				KeepaliveProbes:   protobuf.UInt32(3),
				KeepaliveTime:     protobuf.UInt32(30),
				KeepaliveInterval: protobuf.UInt32(5),
			},
		},
		TypedExtensionProtocolOptions: http2ProtocolOptions(),
	}
}

// http2ProtocolOptions forces h2 on the xDS cluster; gRPC requires it.
func http2ProtocolOptions() map[string]*anypb.Any {
	return map[string]*anypb.Any{
		"envoy.extensions.upstreams.http.v3.HttpProtocolOptions": protobuf.MustMarshalAny(
			&envoy_upstream_http_v3.HttpProtocolOptions{
				UpstreamProtocolOptions: &envoy_upstream_http_v3.HttpProtocolOptions_ExplicitHttpConfig_{
					ExplicitHttpConfig: &envoy_upstream_http_v3.HttpProtocolOptions_ExplicitHttpConfig{
						ProtocolConfig: &envoy_upstream_http_v3.HttpProtocolOptions_ExplicitHttpConfig_Http2ProtocolOptions{
							Http2ProtocolOptions: &envoy_core_v3.Http2ProtocolOptions{},
						},
					},
				},
			},
		),
	}
}

func adsConfigSource() *envoy_core_v3.ConfigSource {
	return &envoy_core_v3.ConfigSource{
		ResourceApiVersion: envoy_core_v3.ApiVersion_V3,
		ConfigSourceSpecifier: &envoy_core_v3.ConfigSource_Ads{
			Ads: &envoy_core_v3.AggregatedConfigSource{},
		},
	}
}

// BootstrapYAML renders a Bootstrap proto as YAML via its canonical
// JSON form, so field names match what the proxy parses.
func BootstrapYAML(b *envoy_bootstrap_v3.Bootstrap) (string, error) {
	jsonBytes, err := protojson.Marshal(b)
	if err != nil {
		return "", errors.Wrap(err, "marshaling bootstrap")
	}

	var doc map[string]any
	if err := yaml.Unmarshal(jsonBytes, &doc); err != nil {
		return "", errors.Wrap(err, "decoding bootstrap json")
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", errors.Wrap(err, "encoding bootstrap yaml")
	}
	return string(out), nil
}
