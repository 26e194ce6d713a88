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
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/projectsteer/steer/internal/admin"
	"github.com/projectsteer/steer/internal/envoy"
	"github.com/projectsteer/steer/internal/httpsvc"
	"github.com/projectsteer/steer/internal/metrics"
	"github.com/projectsteer/steer/internal/model"
	"github.com/projectsteer/steer/internal/store"
	"github.com/projectsteer/steer/internal/workgroup"
	"github.com/projectsteer/steer/internal/xds"
)

// registerServe registers the serve subcommand and flags with the
// Application provided.
func registerServe(app *kingpin.Application) (*kingpin.CmdClause, *serveContext) {
	serve := app.Command("serve", "Serve the admin API and xDS traffic.")
	ctx := newServeContext()

	serve.Flag("config-path", "Path to base configuration.").Short('c').StringVar(&ctx.configFile)
	serve.Flag("debug", "Enable debug logging.").Short('d').BoolVar(&ctx.debug)
	serve.Flag("rest-port", "Admin REST API port.").IntVar(&ctx.Config.Server.RESTPort)
	serve.Flag("xds-port", "xDS gRPC API port.").IntVar(&ctx.Config.Server.XDSPort)
	serve.Flag("host", "Address the servers bind to.").StringVar(&ctx.Config.Server.Host)

	return serve, ctx
}

// doServe runs the control plane until a termination signal arrives.
func doServe(log *logrus.Logger, ctx *serveContext) error {
	if ctx.configFile != "" {
		// Flag values survive only where the file is silent; the
		// file is the authority for everything it names.
		if err := ctx.Config.DecodeFile(ctx.configFile); err != nil {
			return err
		}
	}

	if err := ctx.Config.Validate(); err != nil {
		return err
	}

	log.SetLevel(ctx.Config.Logging.LogrusLevel())
	if ctx.debug {
		log.SetLevel(logrus.DebugLevel)
	}

	params := &ctx.Config

	// The store is the only shared mutable state; everything else
	// reads from it.
	policies := make([]model.LoadBalancerPolicy, 0, len(params.LoadBalancing.AvailablePolicies))
	for _, p := range params.LoadBalancing.AvailablePolicies {
		policies = append(policies, model.LoadBalancerPolicy(p))
	}

	st := store.New(log, store.Options{
		AvailablePolicies: policies,
		DefaultPolicy:     model.LoadBalancerPolicy(params.LoadBalancing.DefaultPolicy),
		SupportedMethods:  params.HTTPMethods.SupportedMethods,
	})

	projector := &envoy.Projector{
		ConnectTimeout:  time.Duration(params.EnvoyGeneration.Cluster.ConnectTimeoutSeconds) * time.Second,
		DNSLookupFamily: params.EnvoyGeneration.Cluster.DNSLookupFamily,
		RouteConfigName: params.EnvoyGeneration.Naming.RouteConfigName,
		VirtualHostName: params.EnvoyGeneration.Naming.VirtualHostName,
		Domains:         params.EnvoyGeneration.Naming.DefaultDomains,
	}

	bootstrap := &envoy.BootstrapConfig{
		AdminAddress:     params.EnvoyGeneration.Admin.Host,
		AdminPort:        params.EnvoyGeneration.Admin.Port,
		XDSAddress:       params.EnvoyGeneration.Bootstrap.ControlPlaneHost,
		XDSGRPCPort:      params.Server.XDSPort,
		ListenerAddress:  params.EnvoyGeneration.Listener.BindingAddress,
		ListenerPort:     params.EnvoyGeneration.Listener.DefaultPort,
		NodeID:           params.EnvoyGeneration.Bootstrap.NodeID,
		NodeCluster:      params.EnvoyGeneration.Bootstrap.NodeCluster,
		RouteConfigName:  params.EnvoyGeneration.Naming.RouteConfigName,
		VirtualHostName:  params.EnvoyGeneration.Naming.VirtualHostName,
		StatPrefix:       params.EnvoyGeneration.HTTPFilters.StatPrefix,
		ListenerName:     params.EnvoyGeneration.Naming.ListenerName,
		XDSClusterName:   params.EnvoyGeneration.Bootstrap.ControlPlaneClusterName,
		HCMFilterName:    params.EnvoyGeneration.HTTPFilters.HCMFilterName,
		RouterFilterName: params.EnvoyGeneration.HTTPFilters.RouterFilterName,
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	metricsHandle := metrics.NewMetrics(registry)

	adminsvc := admin.NewService(httpsvc.Service{
		Addr:        params.Server.Host,
		Port:        params.Server.RESTPort,
		FieldLogger: log.WithField("context", "adminsvc"),
	}, st, projector, bootstrap, params.EnvoyGeneration.ConfigDir, params.HTTPMethods.SupportedMethods, metricsHandle, registry)

	g := xds.NewGRPCServer(registry, grpcOptions(log, &params.TLS)...)
	xds.RegisterServer(
		xds.NewDiscoveryServer(log.WithField("context", "xds"), st, projector, metricsHandle),
		g,
	)

	var group workgroup.Group

	group.Add(adminsvc.Start)

	group.Add(func(gctx context.Context) error {
		xdslog := log.WithField("context", "grpc")

		addr := net.JoinHostPort(params.Server.Host, strconv.Itoa(params.Server.XDSPort))
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}

		go func() {
			<-gctx.Done()
			g.GracefulStop()
		}()

		xdslog.WithField("address", addr).Info("started xDS server")
		defer xdslog.Info("stopped xDS server")
		return g.Serve(l)
	})

	group.Add(func(gctx context.Context) error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		select {
		case sig := <-sigs:
			log.WithField("signal", sig).Info("shutting down")
		case <-gctx.Done():
		}
		return nil
	})

	return group.Run(context.Background())
}
