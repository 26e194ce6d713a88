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

package model

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxClusterNameLength   = 50
	maxHostLength          = 255
	maxPathLength          = 200
	maxPrefixRewriteLength = 100
	maxHTTPMethods         = 10
)

var (
	clusterNameRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	hostRegex        = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)
	pathRegex        = regexp.MustCompile(`^[A-Za-z0-9/._~%&=:@-]+$`)
)

// ValidationError describes a caller-induced validation failure on a
// single field. The admin API maps it to a 400 response.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validationErrorf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the endpoint's host and port.
func (e *Endpoint) Validate() error {
	switch {
	case e.Host == "":
		return validationErrorf("endpoint.host", "must not be empty")
	case len(e.Host) > maxHostLength:
		return validationErrorf("endpoint.host", "must be at most %d characters", maxHostLength)
	case !hostRegex.MatchString(e.Host):
		return validationErrorf("endpoint.host", "%q contains characters outside [A-Za-z0-9.-]", e.Host)
	}

	if e.Port < 1 || e.Port > 65535 {
		return validationErrorf("endpoint.port", "%d is outside 1..65535", e.Port)
	}

	return nil
}

// Validate checks the cluster name, endpoints and load balancer
// policy. policies is the set of policies permitted by configuration;
// an empty LBPolicy is allowed and is defaulted by the store.
func (c *Cluster) Validate(policies []LoadBalancerPolicy) error {
	switch {
	case c.Name == "":
		return validationErrorf("cluster.name", "must not be empty")
	case len(c.Name) > maxClusterNameLength:
		return validationErrorf("cluster.name", "must be at most %d characters", maxClusterNameLength)
	case !clusterNameRegex.MatchString(c.Name):
		return validationErrorf("cluster.name", "%q contains characters outside [A-Za-z0-9_.-]", c.Name)
	}

	if len(c.Endpoints) == 0 {
		return validationErrorf("cluster.endpoints", "at least one endpoint is required")
	}

	for i := range c.Endpoints {
		if err := c.Endpoints[i].Validate(); err != nil {
			return err
		}
		// Mixed TLS settings within one cluster cannot be projected
		// into a single consistent transport socket.
		if c.Endpoints[i].TLSEnabled != c.Endpoints[0].TLSEnabled {
			return validationErrorf("cluster.endpoints", "mixed tls_enabled settings within one cluster")
		}
	}

	if c.LBPolicy != "" && !containsPolicy(policies, c.LBPolicy) {
		return validationErrorf("cluster.lb_policy", "%q is not one of %v", c.LBPolicy, policies)
	}

	return nil
}

// Validate checks the route path, rewrite, cluster reference syntax
// and HTTP method restriction. methods is the supported method set
// from configuration. The cluster reference is validated
// syntactically only; dangling references are legal.
func (r *Route) Validate(methods []string) error {
	if err := validatePath("route.path", r.Path, maxPathLength); err != nil {
		return err
	}

	if r.PrefixRewrite != "" {
		if err := validatePath("route.prefix_rewrite", r.PrefixRewrite, maxPrefixRewriteLength); err != nil {
			return err
		}
	}

	switch {
	case r.ClusterName == "":
		return validationErrorf("route.cluster_name", "must not be empty")
	case len(r.ClusterName) > maxClusterNameLength:
		return validationErrorf("route.cluster_name", "must be at most %d characters", maxClusterNameLength)
	case !clusterNameRegex.MatchString(r.ClusterName):
		return validationErrorf("route.cluster_name", "%q contains characters outside [A-Za-z0-9_.-]", r.ClusterName)
	}

	if len(r.HTTPMethods) > maxHTTPMethods {
		return validationErrorf("route.http_methods", "at most %d methods are allowed", maxHTTPMethods)
	}
	for _, m := range r.HTTPMethods {
		if !containsString(methods, m) {
			return validationErrorf("route.http_methods", "%q is not one of %v", m, methods)
		}
	}

	return nil
}

func validatePath(field, path string, maxLength int) error {
	switch {
	case path == "":
		return validationErrorf(field, "must not be empty")
	case !strings.HasPrefix(path, "/"):
		return validationErrorf(field, "must start with /")
	case len(path) > maxLength:
		return validationErrorf(field, "must be at most %d characters", maxLength)
	case strings.Contains(path, ".."):
		return validationErrorf(field, "must not contain ..")
	case strings.Contains(path, "//"):
		return validationErrorf(field, "must not contain //")
	case !pathRegex.MatchString(path):
		return validationErrorf(field, "contains unsafe URL characters")
	}
	return nil
}

func containsPolicy(haystack []LoadBalancerPolicy, needle LoadBalancerPolicy) bool {
	for _, p := range haystack {
		if p == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
