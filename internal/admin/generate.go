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
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/projectsteer/steer/internal/envoy"
)

// proxyNameRegexp bounds the characters allowed in a generated config
// filename. Anything looser invites path traversal through the
// proxy_name field.
var proxyNameRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type generateConfigRequest struct {
	ProxyName string `json:"proxy_name"`
	ProxyPort int    `json:"proxy_port"`
}

// generateConfig renders a fully static proxy config frozen at the
// current store snapshot, writes it under the configured directory
// and returns the YAML document.
func (s *Service) generateConfig(w http.ResponseWriter, r *http.Request) {
	var req generateConfigRequest
	if !s.decode(w, r, &req) {
		return
	}

	if !proxyNameRegexp.MatchString(req.ProxyName) {
		s.respond(w, http.StatusBadRequest, nil, "proxy_name must match [A-Za-z0-9_-]{1,64}")
		return
	}
	if req.ProxyPort < 1 || req.ProxyPort > 65535 {
		s.respond(w, http.StatusBadRequest, nil, "proxy_port must be between 1 and 65535")
		return
	}

	bc := *s.bootstrap
	bc.ListenerPort = req.ProxyPort

	out, err := envoy.BootstrapYAML(envoy.StaticConfig(&bc, s.projector, s.store.Snapshot()))
	if err != nil {
		s.respondError(w, err)
		return
	}

	if err := os.MkdirAll(s.configDir, 0o755); err != nil {
		s.respondError(w, err)
		return
	}

	path := filepath.Join(s.configDir, req.ProxyName+".yaml")
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		s.respondError(w, err)
		return
	}

	s.WithField("path", path).Info("generated proxy config")
	s.respond(w, http.StatusOK, out, fmt.Sprintf("configuration written to %s", path))
}
