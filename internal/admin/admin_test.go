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

package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/projectsteer/steer/internal/envoy"
	"github.com/projectsteer/steer/internal/fixture"
	"github.com/projectsteer/steer/internal/httpsvc"
	"github.com/projectsteer/steer/internal/metrics"
	"github.com/projectsteer/steer/internal/model"
	"github.com/projectsteer/steer/internal/store"
)

func testService(t *testing.T) (*Service, *store.Store) {
	log := fixture.NewTestLogger(t)

	st := store.New(log, store.Options{
		AvailablePolicies: []model.LoadBalancerPolicy{
			model.LoadBalancerPolicyRoundRobin,
			model.LoadBalancerPolicyRandom,
		},
		DefaultPolicy:    model.LoadBalancerPolicyRoundRobin,
		SupportedMethods: []string{"GET", "POST", "PUT", "DELETE"},
	})

	projector := &envoy.Projector{
		ConnectTimeout:  5 * time.Second,
		DNSLookupFamily: "V4_ONLY",
		RouteConfigName: "local_route",
		VirtualHostName: "local_service",
		Domains:         []string{"*"},
	}

	registry := prometheus.NewRegistry()
	svc := NewService(
		httpsvc.Service{FieldLogger: log},
		st,
		projector,
		&envoy.BootstrapConfig{},
		t.TempDir(),
		[]string{"GET", "POST", "PUT", "DELETE"},
		metrics.NewMetrics(registry),
		registry,
	)
	return svc, st
}

// do issues a request against the service mux and decodes the
// envelope.
func do(t *testing.T, svc *Service, method, target, body string) (int, envelope) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	svc.ServeMux.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return w.Code, env
}

func TestHealth(t *testing.T) {
	svc, _ := testService(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	svc.ServeMux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK\n", w.Body.String())
}

func TestClusterLifecycle(t *testing.T) {
	svc, st := testService(t)

	code, env := do(t, svc, http.MethodPost, "/clusters",
		`{"name": "httpbin-service", "endpoints": [{"host": "httpbin.org", "port": 80}]}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Equal(t, "httpbin-service", env.Data)

	// The default policy was applied on create.
	c, err := st.GetCluster("httpbin-service")
	require.NoError(t, err)
	assert.Equal(t, model.LoadBalancerPolicyRoundRobin, c.LBPolicy)

	code, env = do(t, svc, http.MethodGet, "/clusters", "")
	require.Equal(t, http.StatusOK, code)
	clusters, ok := env.Data.([]any)
	require.True(t, ok)
	assert.Len(t, clusters, 1)

	code, _ = do(t, svc, http.MethodGet, "/clusters/httpbin-service", "")
	assert.Equal(t, http.StatusOK, code)

	code, env = do(t, svc, http.MethodPut, "/clusters/httpbin-service",
		`{"lb_policy": "RANDOM"}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	c, err = st.GetCluster("httpbin-service")
	require.NoError(t, err)
	assert.Equal(t, model.LoadBalancerPolicyRandom, c.LBPolicy)
	// Endpoints were left alone by the partial update.
	assert.Len(t, c.Endpoints, 1)

	code, env = do(t, svc, http.MethodDelete, "/clusters/httpbin-service", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	_, err = st.GetCluster("httpbin-service")
	assert.Error(t, err)
}

func TestClusterErrors(t *testing.T) {
	svc, _ := testService(t)

	// Validation failure.
	code, env := do(t, svc, http.MethodPost, "/clusters", `{"name": ""}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)

	// Malformed body.
	code, _ = do(t, svc, http.MethodPost, "/clusters", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	// Unknown cluster.
	code, _ = do(t, svc, http.MethodGet, "/clusters/ghost", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, svc, http.MethodPut, "/clusters/ghost", `{"lb_policy": "RANDOM"}`)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, svc, http.MethodDelete, "/clusters/ghost", "")
	assert.Equal(t, http.StatusNotFound, code)

	// Duplicate create conflicts rather than upserting.
	body := `{"name": "httpbin-service", "endpoints": [{"host": "httpbin.org", "port": 80}]}`
	code, _ = do(t, svc, http.MethodPost, "/clusters", body)
	require.Equal(t, http.StatusOK, code)
	code, env = do(t, svc, http.MethodPost, "/clusters", body)
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, env.Success)
}

func TestRouteLifecycle(t *testing.T) {
	svc, st := testService(t)

	code, _ := do(t, svc, http.MethodPost, "/clusters",
		`{"name": "httpbin-service", "endpoints": [{"host": "httpbin.org", "port": 80}]}`)
	require.Equal(t, http.StatusOK, code)

	code, env := do(t, svc, http.MethodPost, "/routes",
		`{"path": "/get", "cluster_name": "httpbin-service", "http_methods": ["GET"]}`)
	require.Equal(t, http.StatusOK, code)
	id, ok := env.Data.(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	code, _ = do(t, svc, http.MethodGet, "/routes/"+id, "")
	assert.Equal(t, http.StatusOK, code)

	code, env = do(t, svc, http.MethodPut, "/routes/"+id, `{"path": "/anything"}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	rt, err := st.GetRoute(id)
	require.NoError(t, err)
	assert.Equal(t, "/anything", rt.Path)
	// Fields absent from the update body keep their values.
	assert.Equal(t, "httpbin-service", rt.ClusterName)
	assert.Equal(t, []string{"GET"}, rt.HTTPMethods)

	code, _ = do(t, svc, http.MethodDelete, "/routes/"+id, "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, svc, http.MethodDelete, "/routes/"+id, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRouteValidation(t *testing.T) {
	svc, _ := testService(t)

	code, env := do(t, svc, http.MethodPost, "/routes",
		`{"path": "/get", "cluster_name": "httpbin-service", "http_methods": ["BREW"]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "http_methods")
}

func TestListEmptyCollections(t *testing.T) {
	svc, _ := testService(t)

	// Empty lists serialize as [], not null.
	for _, target := range []string{"/clusters", "/routes"} {
		code, env := do(t, svc, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, code)
		items, ok := env.Data.([]any)
		require.Truef(t, ok, "%s data should be a list", target)
		assert.Empty(t, items)
	}
}

func TestSupportedHTTPMethods(t *testing.T) {
	svc, _ := testService(t)

	code, env := do(t, svc, http.MethodGet, "/supported-http-methods", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"GET", "POST", "PUT", "DELETE"}, env.Data)
}

func TestGenerateBootstrap(t *testing.T) {
	svc, _ := testService(t)

	code, env := do(t, svc, http.MethodGet, "/generate-bootstrap", "")
	require.Equal(t, http.StatusOK, code)

	out, ok := env.Data.(string)
	require.True(t, ok)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc, "dynamicResources")
}

func TestGenerateConfig(t *testing.T) {
	svc, st := testService(t)

	require.NoError(t, st.CreateCluster(model.Cluster{
		Name:      "httpbin-service",
		Endpoints: []model.Endpoint{{Host: "httpbin.org", Port: 80}},
	}))

	code, env := do(t, svc, http.MethodPost, "/generate-config",
		`{"proxy_name": "edge-1", "proxy_port": 10000}`)
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	// The document was also written under the config directory.
	path := filepath.Join(svc.configDir, "edge-1.yaml")
	assert.Contains(t, env.Message, path)

	written, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(written, &doc))
	assert.Contains(t, doc, "staticResources")
	assert.NotContains(t, doc, "dynamicResources")
}

func TestGenerateConfigRejectsBadNames(t *testing.T) {
	svc, _ := testService(t)

	for _, name := range []string{"", "../etc/passwd", "a/b", "name with spaces", strings.Repeat("x", 65)} {
		body, err := json.Marshal(generateConfigRequest{ProxyName: name, ProxyPort: 10000})
		require.NoError(t, err)

		code, env := do(t, svc, http.MethodPost, "/generate-config", string(body))
		assert.Equalf(t, http.StatusBadRequest, code, "proxy_name %q", name)
		assert.False(t, env.Success)
	}

	code, _ := do(t, svc, http.MethodPost, "/generate-config",
		`{"proxy_name": "edge-1", "proxy_port": 0}`)
	assert.Equal(t, http.StatusBadRequest, code)
}
