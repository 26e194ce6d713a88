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
	"strings"
	"testing"

	envoy_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/projectsteer/steer/internal/model"
	"github.com/projectsteer/steer/internal/store"
)

func TestBootstrapDefaults(t *testing.T) {
	b := Bootstrap(&BootstrapConfig{})

	assert.Equal(t, "steer-node", b.Node.Id)
	assert.Equal(t, "steer-cluster", b.Node.Cluster)

	// ADS dials the static xDS cluster; CDS defers to ADS.
	require.NotNil(t, b.DynamicResources)
	grpcServices := b.DynamicResources.AdsConfig.GrpcServices
	require.Len(t, grpcServices, 1)
	assert.Equal(t, "steer", grpcServices[0].GetEnvoyGrpc().ClusterName)
	assert.NotNil(t, b.DynamicResources.CdsConfig.GetAds())
	assert.Equal(t, envoy_core_v3.ApiVersion_V3, b.DynamicResources.AdsConfig.TransportApiVersion)

	// One static cluster pointing at the control plane.
	require.Len(t, b.StaticResources.Clusters, 1)
	c := b.StaticResources.Clusters[0]
	assert.Equal(t, "steer", c.Name)
	addr := c.LoadAssignment.Endpoints[0].LbEndpoints[0].GetEndpoint().Address.GetSocketAddress()
	assert.Equal(t, "127.0.0.1", addr.Address)
	assert.Equal(t, uint32(18000), addr.GetPortValue())
	assert.Contains(t, c.TypedExtensionProtocolOptions, "envoy.extensions.upstreams.http.v3.HttpProtocolOptions")

	// One static ingress listener deferring routes to RDS.
	require.Len(t, b.StaticResources.Listeners, 1)
	l := b.StaticResources.Listeners[0]
	assert.Equal(t, "listener_0", l.Name)
	assert.Equal(t, uint32(10000), l.Address.GetSocketAddress().GetPortValue())

	assert.Equal(t, "127.0.0.1", b.Admin.Address.GetSocketAddress().Address)
	assert.Equal(t, uint32(9901), b.Admin.Address.GetSocketAddress().GetPortValue())
}

func TestBootstrapOverrides(t *testing.T) {
	b := Bootstrap(&BootstrapConfig{
		XDSAddress:   "steer.example.com",
		XDSGRPCPort:  9000,
		AdminPort:    9999,
		ListenerPort: 8443,
		NodeID:       "edge-1",
	})

	assert.Equal(t, "edge-1", b.Node.Id)
	addr := b.StaticResources.Clusters[0].LoadAssignment.Endpoints[0].LbEndpoints[0].GetEndpoint().Address.GetSocketAddress()
	assert.Equal(t, "steer.example.com", addr.Address)
	assert.Equal(t, uint32(9000), addr.GetPortValue())
	assert.Equal(t, uint32(9999), b.Admin.Address.GetSocketAddress().GetPortValue())
	assert.Equal(t, uint32(8443), b.StaticResources.Listeners[0].Address.GetSocketAddress().GetPortValue())
}

func TestBootstrapYAML(t *testing.T) {
	out, err := BootstrapYAML(Bootstrap(&BootstrapConfig{}))
	require.NoError(t, err)

	// The output must round-trip as YAML and keep the proto JSON
	// field names the proxy parses.
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc, "dynamicResources")
	assert.Contains(t, doc, "staticResources")
	assert.True(t, strings.Contains(out, "steer-node"))
}

func TestStaticConfig(t *testing.T) {
	snap := &store.Snapshot{
		Version: 1,
		Clusters: []model.Cluster{
			{
				Name:      "httpbin-service",
				Endpoints: []model.Endpoint{{Host: "httpbin.org", Port: 80}},
			},
		},
		Routes: []model.Route{
			{ID: "r1", Path: "/get", ClusterName: "httpbin-service"},
		},
	}

	p := testProjector()
	b := StaticConfig(&BootstrapConfig{ListenerPort: 10000}, p, snap)

	// No management server: everything is static.
	assert.Nil(t, b.DynamicResources)
	require.Len(t, b.StaticResources.Clusters, 1)
	assert.Equal(t, "httpbin-service", b.StaticResources.Clusters[0].Name)
	require.Len(t, b.StaticResources.Listeners, 1)
}
