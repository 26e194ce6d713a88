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

package xds

import (
	"context"
	"errors"
	"strconv"

	envoy_service_discovery_v3 "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	resource "github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/projectsteer/steer/internal/envoy"
	"github.com/projectsteer/steer/internal/metrics"
	"github.com/projectsteer/steer/internal/store"
)

// typeState is the protocol bookkeeping for one resource type on one
// stream.
type typeState struct {
	// subscribed is set once the proxy has named this type on the
	// stream.
	subscribed bool

	// sentVersion is the store version carried by the most recent
	// response, zero before the first send. It stays at the rejected
	// version after a NACK so the same bytes are never retransmitted.
	sentVersion uint64

	// nonce is the outstanding response nonce, empty when the last
	// response has been resolved. No push is issued while non-empty.
	nonce string

	// ackedVersion is the version the proxy last acknowledged.
	ackedVersion uint64
}

// session serves the SotW protocol for one stream. All state is owned
// by the run loop goroutine; there is exactly one writer per stream.
type session struct {
	logrus.FieldLogger
	store     *store.Store
	projector *envoy.Projector
	metrics   *metrics.Metrics
	stream    grpcStream

	// pushOrder lists the types this stream may carry, in dependency
	// order. Clusters go before load assignments before routes so the
	// proxy never sees a route naming a cluster it has not learned.
	pushOrder []string
	types     map[string]*typeState
}

func newSession(log logrus.FieldLogger, st *store.Store, projector *envoy.Projector, m *metrics.Metrics, stream grpcStream, typeURLs []string) *session {
	types := make(map[string]*typeState, len(typeURLs))
	for _, url := range typeURLs {
		types[url] = &typeState{}
	}

	return &session{
		FieldLogger: log,
		store:       st,
		projector:   projector,
		metrics:     m,
		stream:      stream,
		pushOrder:   typeURLs,
		types:       types,
	}
}

// run sticks in this loop until the client disconnects. Requests are
// read by a dedicated goroutine so the loop can simultaneously wait
// on store changes.
func (s *session) run() error {
	done := func(log logrus.FieldLogger, err error) error {
		switch {
		case errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled:
			// A proxy hanging up is routine, not an error.
			log.Debug("stream terminated")
			return nil
		case err != nil:
			log.WithError(err).Error("stream terminated")
			return err
		default:
			log.Info("stream terminated")
			return nil
		}
	}

	watcher := s.store.Subscribe()
	defer watcher.Close()

	ctx := s.stream.Context()

	reqs := make(chan *envoy_service_discovery_v3.DiscoveryRequest)
	errs := make(chan error, 1)
	go func() {
		for {
			req, err := s.stream.Recv()
			if err != nil {
				errs <- err
				return
			}
			select {
			case reqs <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case req := <-reqs:
			if err := s.handleRequest(req); err != nil {
				return done(s.FieldLogger, err)
			}
		case <-watcher.Changes():
			// The event carries no payload worth reading; the push
			// path re-snapshots the store.
			if err := s.pushOwed(); err != nil {
				return done(s.FieldLogger, err)
			}
		case err := <-errs:
			return done(s.FieldLogger, err)
		case <-ctx.Done():
			return done(s.FieldLogger, ctx.Err())
		}
	}
}

// handleRequest classifies one incoming DiscoveryRequest and advances
// the per-type state machine.
func (s *session) handleRequest(req *envoy_service_discovery_v3.DiscoveryRequest) error {
	log := logDiscoveryRequestDetails(s.FieldLogger, req)

	state, ok := s.types[req.GetTypeUrl()]
	if !ok {
		// Unknown types don't tear down the stream; the proxy may be
		// probing for discovery services we don't serve.
		log.Warn("ignoring request for unserved type URL")
		return nil
	}

	switch {
	case req.ResponseNonce == "":
		// Initial request for this type. Subscribe and respond
		// immediately, even if the store is empty.
		state.subscribed = true
		state.nonce = ""
		return s.push(req.GetTypeUrl(), state)

	case req.ResponseNonce != state.nonce:
		// A response superseded while in flight; the proxy is
		// answering a nonce we no longer care about.
		log.Debug("ignoring stale nonce")
		return nil

	case req.ErrorDetail != nil:
		// NACK. The proxy still runs the version it last ACKed.
		// Don't retransmit the rejected bytes; the next store change
		// carries the retry. A NACK is a protocol signal, not a
		// server failure.
		log.WithField("code", req.ErrorDetail.Code).
			WithField("rejected_nonce", req.ResponseNonce).
			Info(req.ErrorDetail.Message)
		if s.metrics != nil {
			s.metrics.Nack(req.GetTypeUrl())
		}
		state.nonce = ""
		return nil

	default:
		// ACK.
		state.nonce = ""
		state.ackedVersion = state.sentVersion
		log.WithField("acked_version", state.ackedVersion).Debug("resource update acknowledged")

		// A store change may have been coalesced away while this
		// response was outstanding.
		return s.pushOwed()
	}
}

// pushOwed sends a response for every subscribed type whose resource
// set has changed since the last send, skipping types with an
// outstanding nonce. Types are visited in dependency order. A version
// bump that only touched clusters owes nothing to the route type, and
// vice versa.
func (s *session) pushOwed() error {
	snap := s.store.Snapshot()

	for _, url := range s.pushOrder {
		state := s.types[url]
		if !state.subscribed || state.nonce != "" {
			continue
		}
		if state.sentVersion >= typeVersion(url, snap) {
			continue
		}
		if err := s.push(url, state); err != nil {
			return err
		}
	}
	return nil
}

// typeVersion returns the store version at which the resource set
// backing typeURL last changed. Load assignments are derived from
// clusters and move with them.
func typeVersion(typeURL string, snap *store.Snapshot) uint64 {
	if typeURL == resource.RouteType {
		return snap.RoutesVersion
	}
	return snap.ClustersVersion
}

// push projects and sends the current snapshot for one type,
// recording the tentative sent version and the fresh nonce.
func (s *session) push(typeURL string, state *typeState) error {
	snap := s.store.Snapshot()

	resources, err := s.projector.Resources(typeURL, snap)
	if err != nil {
		return err
	}

	anys := make([]*anypb.Any, 0, len(resources))
	for _, r := range resources {
		a, err := anypb.New(r)
		if err != nil {
			return err
		}
		anys = append(anys, a)
	}

	resp := &envoy_service_discovery_v3.DiscoveryResponse{
		VersionInfo: strconv.FormatUint(snap.Version, 10),
		Resources:   anys,
		TypeUrl:     typeURL,
		Nonce:       uuid.NewString(),
	}

	if err := s.stream.Send(resp); err != nil {
		return err
	}

	state.sentVersion = snap.Version
	state.nonce = resp.Nonce

	if s.metrics != nil {
		s.metrics.Push(typeURL)
	}

	s.WithField("type_url", typeURL).
		WithField("version_info", resp.VersionInfo).
		WithField("nonce", resp.Nonce).
		WithField("resources", len(anys)).
		Debug("pushed resources")

	return nil
}
