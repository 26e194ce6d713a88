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

package main

import (
	"crypto/tls"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	"github.com/projectsteer/steer/internal/config"
)

// serveContext carries the serve subcommand's flag values.
type serveContext struct {
	// configFile is the path to the YAML configuration document;
	// empty means built-in defaults.
	configFile string

	// debug forces the debug log level regardless of the configured
	// one.
	debug bool

	Config config.Parameters
}

func newServeContext() *serveContext {
	// Set defaults for parameters which are then overridden via
	// flags or the config file.
	return &serveContext{
		Config: config.Defaults(),
	}
}

// grpcOptions returns a slice of grpc.ServerOptions. If TLS is
// enabled in the configuration the option set includes transport
// credentials with lazily reloaded certificates.
func grpcOptions(log logrus.FieldLogger, tlsParams *config.TLSParameters) []grpc.ServerOption {
	opts := []grpc.ServerOption{
		// By default the Go grpc library defaults to a value of ~100 streams per
		// connection. This number is likely derived from the HTTP/2 spec:
		// https://http2.github.io/http2-spec/#SettingValues
		// We need to raise this value because Envoy will open one stream per
		// discovery service it subscribes to. There doesn't seem to be a penalty
		// for increasing this value, so set it the limit similar to
		// envoyproxy/go-control-plane#70.
		grpc.MaxConcurrentStreams(1 << 20),
		// Set gRPC keepalive params so half-open proxy connections
		// are reaped instead of holding sessions forever.
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    60 * time.Second,
			Timeout: 20 * time.Second,
		}),
	}

	if tlsParams.Enabled {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsconfig(log, tlsParams))))
	}
	return opts
}

// tlsconfig returns a new *tls.Config for the discovery listener.
func tlsconfig(log logrus.FieldLogger, tlsParams *config.TLSParameters) *tls.Config {
	// Define a closure that lazily loads certificates and key at TLS handshake
	// to ensure that latest certificates are used in case they have been rotated.
	loadConfig := func() (*tls.Config, error) {
		cert, err := tls.LoadX509KeyPair(tlsParams.CertPath, tlsParams.KeyPath)
		if err != nil {
			return nil, err
		}

		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS13,
			NextProtos:   []string{http2.NextProtoTLS},
		}, nil
	}

	// Attempt to load certificates and key to catch configuration errors early.
	if _, err := loadConfig(); err != nil {
		log.WithError(err).Fatal("failed to load certificate and key")
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetConfigForClient: func(*tls.ClientHelloInfo) (*tls.Config, error) {
			return loadConfig()
		},
	}
}
