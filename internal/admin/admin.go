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

// Package admin provides the REST surface for mutating clusters and
// routes and for generating proxy configuration documents.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/projectsteer/steer/internal/envoy"
	"github.com/projectsteer/steer/internal/httpsvc"
	"github.com/projectsteer/steer/internal/metrics"
	"github.com/projectsteer/steer/internal/model"
	"github.com/projectsteer/steer/internal/store"
)

// Service serves the admin REST API. Construct with NewService; the
// zero value has no routes registered.
type Service struct {
	httpsvc.Service

	store            *store.Store
	projector        *envoy.Projector
	bootstrap        *envoy.BootstrapConfig
	configDir        string
	supportedMethods []string
	metrics          *metrics.Metrics
}

// NewService returns an admin Service with all handlers registered on
// its mux.
func NewService(svc httpsvc.Service, st *store.Store, projector *envoy.Projector, bootstrap *envoy.BootstrapConfig, configDir string, supportedMethods []string, m *metrics.Metrics, registry *prometheus.Registry) *Service {
	s := &Service{
		Service:          svc,
		store:            st,
		projector:        projector,
		bootstrap:        bootstrap,
		configDir:        configDir,
		supportedMethods: supportedMethods,
		metrics:          m,
	}

	s.HandleFunc("GET /health", s.health)
	s.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.HandleFunc("GET /clusters", s.listClusters)
	s.HandleFunc("GET /clusters/{name}", s.getCluster)
	s.HandleFunc("POST /clusters", s.createCluster)
	s.HandleFunc("PUT /clusters/{name}", s.updateCluster)
	s.HandleFunc("DELETE /clusters/{name}", s.deleteCluster)

	s.HandleFunc("GET /routes", s.listRoutes)
	s.HandleFunc("GET /routes/{id}", s.getRoute)
	s.HandleFunc("POST /routes", s.createRoute)
	s.HandleFunc("PUT /routes/{id}", s.updateRoute)
	s.HandleFunc("DELETE /routes/{id}", s.deleteRoute)

	s.HandleFunc("GET /generate-bootstrap", s.generateBootstrap)
	s.HandleFunc("POST /generate-config", s.generateConfig)
	s.HandleFunc("GET /supported-http-methods", s.supportedHTTPMethods)

	return s
}

// envelope is the uniform response body for all enveloped endpoints.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Service) respond(w http.ResponseWriter, status int, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{
		Success: status < http.StatusBadRequest,
		Data:    data,
		Message: message,
	}); err != nil {
		s.WithError(err).Error("failed to write response")
	}
}

// respondError maps a store or validation error onto the right status
// code. Validation failures are the caller's fault and are not logged
// as errors.
func (s *Service) respondError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError

	switch {
	case errors.As(err, &verr):
		s.respond(w, http.StatusBadRequest, nil, verr.Error())
	case errors.Is(err, store.ErrClusterNotFound), errors.Is(err, store.ErrRouteNotFound):
		s.respond(w, http.StatusNotFound, nil, err.Error())
	case errors.Is(err, store.ErrClusterExists):
		s.respond(w, http.StatusConflict, nil, err.Error())
	default:
		s.WithError(err).Error("admin request failed")
		s.respond(w, http.StatusInternalServerError, nil, err.Error())
	}
}

func (s *Service) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		s.respond(w, http.StatusBadRequest, nil, fmt.Sprintf("invalid request body: %s", err))
		return false
	}
	return true
}

// mutated records bookkeeping after a successful mutation.
func (s *Service) mutated(resource, operation string) {
	if s.metrics != nil {
		s.metrics.AdminMutation(resource, operation)
		s.metrics.SetStoreVersion(s.store.Version())
	}
}

func (s *Service) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *Service) listClusters(w http.ResponseWriter, _ *http.Request) {
	clusters := s.store.ListClusters()
	if clusters == nil {
		clusters = []model.Cluster{}
	}
	s.respond(w, http.StatusOK, clusters, "")
}

func (s *Service) getCluster(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetCluster(r.PathValue("name"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, c, "")
}

func (s *Service) createCluster(w http.ResponseWriter, r *http.Request) {
	var c model.Cluster
	if !s.decode(w, r, &c) {
		return
	}

	if err := s.store.CreateCluster(c); err != nil {
		s.respondError(w, err)
		return
	}

	s.mutated("cluster", "create")
	s.respond(w, http.StatusOK, c.Name, "cluster created")
}

// clusterUpdateRequest is a partial cluster document. Absent fields
// keep their stored values.
type clusterUpdateRequest struct {
	Endpoints []model.Endpoint          `json:"endpoints"`
	LBPolicy  *model.LoadBalancerPolicy `json:"lb_policy"`
}

func (s *Service) updateCluster(w http.ResponseWriter, r *http.Request) {
	var req clusterUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}

	name := r.PathValue("name")
	if _, err := s.store.UpdateCluster(name, store.ClusterUpdate{
		Endpoints: req.Endpoints,
		LBPolicy:  req.LBPolicy,
	}); err != nil {
		s.respondError(w, err)
		return
	}

	s.mutated("cluster", "update")
	s.respond(w, http.StatusOK, name, "cluster updated")
}

func (s *Service) deleteCluster(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCluster(r.PathValue("name")); err != nil {
		s.respondError(w, err)
		return
	}

	s.mutated("cluster", "delete")
	s.respond(w, http.StatusOK, nil, "cluster deleted")
}

func (s *Service) listRoutes(w http.ResponseWriter, _ *http.Request) {
	routes := s.store.ListRoutes()
	if routes == nil {
		routes = []model.Route{}
	}
	s.respond(w, http.StatusOK, routes, "")
}

func (s *Service) getRoute(w http.ResponseWriter, r *http.Request) {
	rt, err := s.store.GetRoute(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, rt, "")
}

func (s *Service) createRoute(w http.ResponseWriter, r *http.Request) {
	var rt model.Route
	if !s.decode(w, r, &rt) {
		return
	}

	id, err := s.store.CreateRoute(rt)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.mutated("route", "create")
	s.respond(w, http.StatusOK, id, "route created")
}

// routeUpdateRequest is a partial route document. Absent fields keep
// their stored values.
type routeUpdateRequest struct {
	Path          *string  `json:"path"`
	ClusterName   *string  `json:"cluster_name"`
	PrefixRewrite *string  `json:"prefix_rewrite"`
	HTTPMethods   []string `json:"http_methods"`
}

func (s *Service) updateRoute(w http.ResponseWriter, r *http.Request) {
	var req routeUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}

	id := r.PathValue("id")
	if _, err := s.store.UpdateRoute(id, store.RouteUpdate{
		Path:          req.Path,
		ClusterName:   req.ClusterName,
		PrefixRewrite: req.PrefixRewrite,
		HTTPMethods:   req.HTTPMethods,
	}); err != nil {
		s.respondError(w, err)
		return
	}

	s.mutated("route", "update")
	s.respond(w, http.StatusOK, id, "route updated")
}

func (s *Service) deleteRoute(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRoute(r.PathValue("id")); err != nil {
		s.respondError(w, err)
		return
	}

	s.mutated("route", "delete")
	s.respond(w, http.StatusOK, nil, "route deleted")
}

func (s *Service) supportedHTTPMethods(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.supportedMethods, "")
}

func (s *Service) generateBootstrap(w http.ResponseWriter, _ *http.Request) {
	out, err := envoy.BootstrapYAML(envoy.Bootstrap(s.bootstrap))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, out, "bootstrap configuration generated")
}
