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
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.StandardLogger()

	app := kingpin.New("steer", "Dynamic xDS configuration control plane for Envoy-style proxies.")

	bootstrapCmd, bootstrapCtx := registerBootstrap(app)
	serveCmd, serveCtx := registerServe(app)

	args := os.Args[1:]
	switch kingpin.MustParse(app.Parse(args)) {
	case bootstrapCmd.FullCommand():
		if err := doBootstrap(bootstrapCtx); err != nil {
			log.WithError(err).Fatal("failed to generate bootstrap configuration")
		}
	case serveCmd.FullCommand():
		if err := doServe(log, serveCtx); err != nil {
			log.WithError(err).Fatal("steer server terminated")
		}
	default:
		app.Usage(args)
		os.Exit(2)
	}
}
