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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provide Prometheus metrics for the app
type Metrics struct {
	streamsActiveGauge   prometheus.Gauge
	storeVersionGauge    prometheus.Gauge
	pushCounter          *prometheus.CounterVec
	nackCounter          *prometheus.CounterVec
	adminMutationCounter *prometheus.CounterVec
}

const (
	StreamsActiveGauge   = "steer_xds_streams_active"
	StoreVersionGauge    = "steer_store_version"
	PushCounter          = "steer_xds_pushes_total"
	NackCounter          = "steer_xds_nacks_total"
	AdminMutationCounter = "steer_admin_mutations_total"
)

// NewMetrics creates a new set of metrics and registers them with
// the supplied registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := Metrics{
		streamsActiveGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: StreamsActiveGauge,
				Help: "Number of currently connected xDS streams",
			},
		),
		storeVersionGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: StoreVersionGauge,
				Help: "Current version of the configuration store",
			},
		),
		pushCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: PushCounter,
				Help: "Total number of xDS responses pushed",
			},
			[]string{"type_url"},
		),
		nackCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: NackCounter,
				Help: "Total number of NACKed xDS responses",
			},
			[]string{"type_url"},
		),
		adminMutationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: AdminMutationCounter,
				Help: "Total number of admin API mutations",
			},
			[]string{"resource", "operation"},
		),
	}
	m.register(registry)
	return &m
}

// register registers the Metrics with the supplied registry.
func (m *Metrics) register(registry *prometheus.Registry) {
	registry.MustRegister(
		m.streamsActiveGauge,
		m.storeVersionGauge,
		m.pushCounter,
		m.nackCounter,
		m.adminMutationCounter,
	)
}

// StreamOpened records a new xDS stream.
func (m *Metrics) StreamOpened() {
	m.streamsActiveGauge.Inc()
}

// StreamClosed records a terminated xDS stream.
func (m *Metrics) StreamClosed() {
	m.streamsActiveGauge.Dec()
}

// SetStoreVersion records the store version after a mutation.
func (m *Metrics) SetStoreVersion(version uint64) {
	m.storeVersionGauge.Set(float64(version))
}

// Push records an xDS response sent for the given type URL.
func (m *Metrics) Push(typeURL string) {
	m.pushCounter.WithLabelValues(typeURL).Inc()
}

// Nack records a rejected xDS response for the given type URL.
func (m *Metrics) Nack(typeURL string) {
	m.nackCounter.WithLabelValues(typeURL).Inc()
}

// AdminMutation records a successful admin mutation.
func (m *Metrics) AdminMutation(resource, operation string) {
	m.adminMutationCounter.WithLabelValues(resource, operation).Inc()
}
