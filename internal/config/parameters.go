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

// Package config holds the serve-time configuration file format with
// its defaults and validation.
package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"regexp"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Parameters is the root of the configuration file.
type Parameters struct {
	// Server holds the network bindings for the admin and discovery
	// servers.
	Server ServerParameters `yaml:"server,omitempty"`

	// TLS configures transport security for the discovery RPC. The
	// admin surface is always served in the clear.
	TLS TLSParameters `yaml:"tls,omitempty"`

	// Logging selects the log level.
	Logging LoggingParameters `yaml:"logging,omitempty"`

	// LoadBalancing bounds the lb_policy values accepted on clusters.
	LoadBalancing LoadBalancingParameters `yaml:"load_balancing,omitempty"`

	// HTTPMethods bounds the http_methods values accepted on routes.
	HTTPMethods HTTPMethodsParameters `yaml:"http_methods,omitempty"`

	// EnvoyGeneration holds every value baked into projected
	// resources and generated bootstrap documents.
	EnvoyGeneration EnvoyGenerationParameters `yaml:"envoy_generation,omitempty"`
}

// ServerParameters are the network bindings.
type ServerParameters struct {
	RESTPort int    `yaml:"rest_port,omitempty"`
	XDSPort  int    `yaml:"xds_port,omitempty"`
	Host     string `yaml:"host,omitempty"`
}

// TLSParameters hold the TLS materials for the discovery RPC.
type TLSParameters struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"cert_path,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
}

// LoggingParameters select the log level.
type LoggingParameters struct {
	Level string `yaml:"level,omitempty"`
}

// Level converts the configured level name to a logrus.Level. The
// trace name maps to logrus's TraceLevel; unrecognized names are a
// validation error caught earlier.
func (l LoggingParameters) LogrusLevel() logrus.Level {
	switch l.Level {
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "debug":
		return logrus.DebugLevel
	case "trace":
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

func (l LoggingParameters) Validate() error {
	switch l.Level {
	case "", "error", "warn", "info", "debug", "trace":
		return nil
	default:
		return fmt.Errorf("invalid log level %q", l.Level)
	}
}

// LoadBalancingParameters bound the accepted lb_policy values.
type LoadBalancingParameters struct {
	AvailablePolicies []string `yaml:"available_policies,omitempty"`
	DefaultPolicy     string   `yaml:"default_policy,omitempty"`
}

func (l LoadBalancingParameters) Validate() error {
	if len(l.AvailablePolicies) == 0 {
		return fmt.Errorf("load_balancing.available_policies must not be empty")
	}
	for _, p := range l.AvailablePolicies {
		if p == l.DefaultPolicy {
			return nil
		}
	}
	return fmt.Errorf("load_balancing.default_policy %q is not among the available policies", l.DefaultPolicy)
}

// HTTPMethodsParameters bound the accepted http_methods values.
type HTTPMethodsParameters struct {
	SupportedMethods []string `yaml:"supported_methods,omitempty"`
}

// EnvoyGenerationParameters hold the values baked into generated
// proxy configuration.
type EnvoyGenerationParameters struct {
	ConfigDir   string                `yaml:"config_dir,omitempty"`
	Admin       AdminParameters       `yaml:"admin,omitempty"`
	Listener    ListenerParameters    `yaml:"listener,omitempty"`
	Cluster     ClusterParameters     `yaml:"cluster,omitempty"`
	Naming      NamingParameters      `yaml:"naming,omitempty"`
	Bootstrap   BootstrapParameters   `yaml:"bootstrap,omitempty"`
	HTTPFilters HTTPFiltersParameters `yaml:"http_filters,omitempty"`
}

// AdminParameters locate the proxy's own admin interface.
type AdminParameters struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// ListenerParameters configure the generated ingress listener.
type ListenerParameters struct {
	BindingAddress string `yaml:"binding_address,omitempty"`
	DefaultPort    int    `yaml:"default_port,omitempty"`
}

// ClusterParameters configure projected cluster resources.
type ClusterParameters struct {
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds,omitempty"`
	DiscoveryType         string `yaml:"discovery_type,omitempty"`
	DNSLookupFamily       string `yaml:"dns_lookup_family,omitempty"`
	DefaultProtocol       string `yaml:"default_protocol,omitempty"`
}

// NamingParameters are the stable names used in generated resources.
type NamingParameters struct {
	ListenerName    string   `yaml:"listener_name,omitempty"`
	VirtualHostName string   `yaml:"virtual_host_name,omitempty"`
	RouteConfigName string   `yaml:"route_config_name,omitempty"`
	DefaultDomains  []string `yaml:"default_domains,omitempty"`
}

// BootstrapParameters identify the proxy and this control plane in
// generated bootstrap documents.
type BootstrapParameters struct {
	NodeID                  string `yaml:"node_id,omitempty"`
	NodeCluster             string `yaml:"node_cluster,omitempty"`
	ControlPlaneHost        string `yaml:"control_plane_host,omitempty"`
	MainListenerName        string `yaml:"main_listener_name,omitempty"`
	ControlPlaneClusterName string `yaml:"control_plane_cluster_name,omitempty"`
}

// HTTPFiltersParameters name the filters wired into the generated
// HTTP connection manager.
type HTTPFiltersParameters struct {
	StatPrefix       string `yaml:"stat_prefix,omitempty"`
	RouterFilterName string `yaml:"router_filter_name,omitempty"`
	HCMFilterName    string `yaml:"hcm_filter_name,omitempty"`
}

var hostnameRegexp = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?)*$`)

// Validate verifies that the parameter values do not have any syntax
// errors.
func (p *Parameters) Validate() error {
	if err := validatePort("server.rest_port", p.Server.RESTPort); err != nil {
		return err
	}
	if err := validatePort("server.xds_port", p.Server.XDSPort); err != nil {
		return err
	}
	if p.Server.RESTPort == p.Server.XDSPort {
		return fmt.Errorf("server.rest_port and server.xds_port must be distinct")
	}
	if err := validateHost("server.host", p.Server.Host); err != nil {
		return err
	}

	if err := p.Logging.Validate(); err != nil {
		return err
	}

	if err := p.LoadBalancing.Validate(); err != nil {
		return err
	}

	if len(p.HTTPMethods.SupportedMethods) == 0 {
		return fmt.Errorf("http_methods.supported_methods must not be empty")
	}

	timeout := p.EnvoyGeneration.Cluster.ConnectTimeoutSeconds
	if timeout < 1 || timeout > 300 {
		return fmt.Errorf("envoy_generation.cluster.connect_timeout_seconds must be between 1 and 300")
	}

	if p.TLS.Enabled && (p.TLS.CertPath == "" || p.TLS.KeyPath == "") {
		return fmt.Errorf("tls.cert_path and tls.key_path are required when tls.enabled is set")
	}

	return nil
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535", field)
	}
	return nil
}

func validateHost(field, host string) error {
	if net.ParseIP(host) != nil {
		return nil
	}
	if hostnameRegexp.MatchString(host) {
		return nil
	}
	return fmt.Errorf("%s %q is not an IP address or hostname", field, host)
}

// Defaults returns the default set of parameters.
func Defaults() Parameters {
	return Parameters{
		Server: ServerParameters{
			RESTPort: 8080,
			XDSPort:  18000,
			Host:     "0.0.0.0",
		},
		Logging: LoggingParameters{
			Level: "info",
		},
		LoadBalancing: LoadBalancingParameters{
			AvailablePolicies: []string{"ROUND_ROBIN", "LEAST_REQUEST", "RANDOM", "RING_HASH"},
			DefaultPolicy:     "ROUND_ROBIN",
		},
		HTTPMethods: HTTPMethodsParameters{
			SupportedMethods: []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
		},
		EnvoyGeneration: EnvoyGenerationParameters{
			ConfigDir: "envoy-configs",
			Admin: AdminParameters{
				Host: "127.0.0.1",
				Port: 9901,
			},
			Listener: ListenerParameters{
				BindingAddress: "0.0.0.0",
				DefaultPort:    10000,
			},
			Cluster: ClusterParameters{
				ConnectTimeoutSeconds: 5,
				DiscoveryType:         "STRICT_DNS",
				DNSLookupFamily:       "V4_ONLY",
				DefaultProtocol:       "TCP",
			},
			Naming: NamingParameters{
				ListenerName:    "listener_0",
				VirtualHostName: "local_service",
				RouteConfigName: "local_route",
				DefaultDomains:  []string{"*"},
			},
			Bootstrap: BootstrapParameters{
				NodeID:                  "steer-node",
				NodeCluster:             "steer-cluster",
				ControlPlaneHost:        "127.0.0.1",
				MainListenerName:        "listener_0",
				ControlPlaneClusterName: "steer",
			},
			HTTPFilters: HTTPFiltersParameters{
				StatPrefix:       "ingress_http",
				RouterFilterName: "envoy.filters.http.router",
				HCMFilterName:    "envoy.filters.network.http_connection_manager",
			},
		},
	}
}

// Parse reads parameters from a YAML input stream. Any parameters
// not specified by the input are according to Defaults().
func Parse(in io.Reader) (*Parameters, error) {
	conf := Defaults()
	if err := conf.Decode(in); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Decode overlays a YAML input stream onto the receiver. Only the
// fields the input names are overridden; everything else keeps its
// current value.
func (p *Parameters) Decode(in io.Reader) error {
	decoder := yaml.NewDecoder(in)

	decoder.KnownFields(true)

	if err := decoder.Decode(p); err != nil {
		// The YAML decoder will return EOF if there are
		// no YAML nodes in the results. In this case, we just
		// want to succeed and keep the current values.
		if err != io.EOF {
			return fmt.Errorf("failed to parse configuration: %w", err)
		}
	}

	return nil
}

// DecodeFile overlays the named YAML file onto the receiver.
func (p *Parameters) DecodeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return p.Decode(f)
}
