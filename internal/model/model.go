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

// Package model holds the internal representation of the routing
// configuration declared through the admin API. These types are the
// source that the envoy package projects into wire resources.
package model

// LoadBalancerPolicy selects how Envoy spreads requests over a
// cluster's endpoints.
type LoadBalancerPolicy string

const (
	LoadBalancerPolicyRoundRobin   LoadBalancerPolicy = "ROUND_ROBIN"
	LoadBalancerPolicyLeastRequest LoadBalancerPolicy = "LEAST_REQUEST"
	LoadBalancerPolicyRandom       LoadBalancerPolicy = "RANDOM"
	LoadBalancerPolicyRingHash     LoadBalancerPolicy = "RING_HASH"
)

// Endpoint is one upstream target of a Cluster. Endpoints are value
// objects; they have no identity outside their owning cluster.
type Endpoint struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	TLSEnabled bool   `json:"tls_enabled,omitempty" yaml:"tls_enabled,omitempty"`
}

// Cluster is a named pool of upstream endpoints. Name is the primary
// key; endpoint order is preserved as inserted.
type Cluster struct {
	Name      string             `json:"name" yaml:"name"`
	Endpoints []Endpoint         `json:"endpoints" yaml:"endpoints"`
	LBPolicy  LoadBalancerPolicy `json:"lb_policy,omitempty" yaml:"lb_policy,omitempty"`
}

// Route is an HTTP forwarding rule. ID is server generated. The
// cluster reference is by name only; it is legal for it to dangle.
type Route struct {
	ID            string   `json:"id" yaml:"id"`
	Path          string   `json:"path" yaml:"path"`
	ClusterName   string   `json:"cluster_name" yaml:"cluster_name"`
	PrefixRewrite string   `json:"prefix_rewrite,omitempty" yaml:"prefix_rewrite,omitempty"`
	HTTPMethods   []string `json:"http_methods,omitempty" yaml:"http_methods,omitempty"`
}

// TLSEnabled reports whether the cluster's endpoints want upstream
// TLS. Mixed clusters are rejected at validation time, so checking
// the first endpoint is sufficient.
func (c *Cluster) TLSEnabled() bool {
	return len(c.Endpoints) > 0 && c.Endpoints[0].TLSEnabled
}
