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
	"fmt"
	"strings"

	envoy_route_v3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	matcher "github.com/envoyproxy/go-control-plane/envoy/type/matcher/v3"

	"github.com/projectsteer/steer/internal/model"
)

// RouteConfiguration returns a single RouteConfiguration for the
// supplied virtual hosts.
func RouteConfiguration(name string, virtualhosts ...*envoy_route_v3.VirtualHost) *envoy_route_v3.RouteConfiguration {
	return &envoy_route_v3.RouteConfiguration{
		Name:         name,
		VirtualHosts: virtualhosts,
	}
}

// VirtualHost creates a new VirtualHost whose routes field lists the
// supplied routes in order.
func VirtualHost(name string, domains []string, routes []model.Route) *envoy_route_v3.VirtualHost {
	wire := make([]*envoy_route_v3.Route, 0, len(routes))
	for i := range routes {
		wire = append(wire, Route(&routes[i]))
	}

	return &envoy_route_v3.VirtualHost{
		Name:    name,
		Domains: domains,
		Routes:  wire,
	}
}

// Route converts a model.Route to a wire route. The cluster reference
// is transmitted even if it dangles; the proxy's config validator is
// the arbiter of dangling references.
func Route(r *model.Route) *envoy_route_v3.Route {
	return &envoy_route_v3.Route{
		Match:  RouteMatch(r),
		Action: RouteRoute(r),
	}
}

// RouteMatch creates a prefix RouteMatch for the route's path. If the
// route restricts HTTP methods, a :method header matcher carrying the
// method alternation is attached.
func RouteMatch(r *model.Route) *envoy_route_v3.RouteMatch {
	m := &envoy_route_v3.RouteMatch{
		PathSpecifier: &envoy_route_v3.RouteMatch_Prefix{
			Prefix: r.Path,
		},
	}

	if len(r.HTTPMethods) > 0 {
		m.Headers = []*envoy_route_v3.HeaderMatcher{methodHeaderMatcher(r.HTTPMethods)}
	}

	return m
}

// RouteRoute creates a *envoy_route_v3.Route_Route for the route's
// forwarding action.
func RouteRoute(r *model.Route) *envoy_route_v3.Route_Route {
	return &envoy_route_v3.Route_Route{
		Route: &envoy_route_v3.RouteAction{
			ClusterSpecifier: &envoy_route_v3.RouteAction_Cluster{
				Cluster: r.ClusterName,
			},
			PrefixRewrite: r.PrefixRewrite,
		},
	}
}

// methodHeaderMatcher builds one :method matcher OR-ing the selected
// methods as a safe_regex alternation.
func methodHeaderMatcher(methods []string) *envoy_route_v3.HeaderMatcher {
	return &envoy_route_v3.HeaderMatcher{
		Name: ":method",
		HeaderMatchSpecifier: &envoy_route_v3.HeaderMatcher_SafeRegexMatch{
			SafeRegexMatch: SafeRegexMatch(fmt.Sprintf("^(%s)$", strings.Join(methods, "|"))),
		},
	}
}

// SafeRegexMatch returns a matcher.RegexMatcher for the supplied
// regex.
func SafeRegexMatch(regex string) *matcher.RegexMatcher {
	return &matcher.RegexMatcher{
		Regex: regex,
	}
}
