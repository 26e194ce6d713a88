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
	"os"

	kingpin "github.com/alecthomas/kingpin/v2"

	"github.com/projectsteer/steer/internal/envoy"
)

// bootstrapContext carries the bootstrap subcommand's flag values.
type bootstrapContext struct {
	path   string
	config envoy.BootstrapConfig
}

// registerBootstrap registers the bootstrap subcommand and flags
// with the Application provided.
func registerBootstrap(app *kingpin.Application) (*kingpin.CmdClause, *bootstrapContext) {
	ctx := &bootstrapContext{}

	bootstrap := app.Command("bootstrap", "Generate proxy bootstrap configuration.")
	bootstrap.Arg("path", "Output file ('-' for standard output).").Required().StringVar(&ctx.path)
	bootstrap.Flag("admin-address", "Proxy admin interface address.").StringVar(&ctx.config.AdminAddress)
	bootstrap.Flag("admin-port", "Proxy admin interface port.").IntVar(&ctx.config.AdminPort)
	bootstrap.Flag("xds-address", "xDS gRPC API address.").StringVar(&ctx.config.XDSAddress)
	bootstrap.Flag("xds-port", "xDS gRPC API port.").IntVar(&ctx.config.XDSGRPCPort)
	bootstrap.Flag("listener-address", "Ingress listener bind address.").StringVar(&ctx.config.ListenerAddress)
	bootstrap.Flag("listener-port", "Ingress listener port.").IntVar(&ctx.config.ListenerPort)
	bootstrap.Flag("node-id", "Proxy node id.").StringVar(&ctx.config.NodeID)
	bootstrap.Flag("node-cluster", "Proxy node cluster.").StringVar(&ctx.config.NodeCluster)

	return bootstrap, ctx
}

// doBootstrap renders the bootstrap document for the supplied flags.
func doBootstrap(ctx *bootstrapContext) error {
	out, err := envoy.BootstrapYAML(envoy.Bootstrap(&ctx.config))
	if err != nil {
		return err
	}

	if ctx.path == "-" {
		_, err = os.Stdout.WriteString(out)
		return err
	}
	return os.WriteFile(ctx.path, []byte(out), 0o644)
}
