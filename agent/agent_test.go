// Copyright 2025 The ingestd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httpsyslog/ingestd/confengine"
	"github.com/httpsyslog/ingestd/protocol/phttp"
)

const baseConfig = `
agent:
  pipeline:
    queue-size: 16
  sources:
    - name: test-source
      address: "127.0.0.1:0"
      max-connections: 10
      buffer-capacity: 4096
      extractor: single-message
server:
  enabled: false
logger:
  stdout: true
  level: error
`

func TestAgentLifecycle(t *testing.T) {
	cfg, err := confengine.LoadContent([]byte(baseConfig))
	require.NoError(t, err)

	a, err := New(cfg)
	require.NoError(t, err)
	require.Len(t, a.drivers, 1)

	require.NoError(t, a.Start())
	assert.Equal(t, 0, a.drivers[0].ActiveConnections())
	assert.Equal(t, "test-source", a.drivers[0].Name())

	a.Stop()
}

func TestAgentRequiresAtLeastOneSource(t *testing.T) {
	cfg, err := confengine.LoadContent([]byte(`
agent:
  sources: []
server:
  enabled: false
`))
	require.NoError(t, err)

	_, err = New(cfg)
	assert.Error(t, err)
}

func TestAgentReloadRebuildsDrivers(t *testing.T) {
	cfg, err := confengine.LoadContent([]byte(baseConfig))
	require.NoError(t, err)

	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start())

	reloaded, err := confengine.LoadContent([]byte(`
agent:
  sources:
    - name: test-source-2
      address: "127.0.0.1:0"
      max-connections: 20
      buffer-capacity: 8192
      extractor: newline-split
server:
  enabled: false
`))
	require.NoError(t, err)

	require.NoError(t, a.Reload(reloaded))
	require.Len(t, a.drivers, 1)
	assert.Equal(t, "test-source-2", a.drivers[0].Name())

	a.Stop()
}

func TestSourceConfigValidateRejectsMismatchedTLS(t *testing.T) {
	withTLSButNoTransport := SourceConfig{
		Name: "x",
		TLS:  &TLSConfig{CertFile: "a", KeyFile: "b"},
	}
	assert.Error(t, withTLSButNoTransport.validate())

	tlsTransportNoBlock := SourceConfig{
		Name:      "x",
		Transport: phttp.TransportTLS,
	}
	assert.Error(t, tlsTransportNoBlock.validate())

	ok := SourceConfig{
		Name:      "x",
		Transport: phttp.TransportTLS,
		TLS:       &TLSConfig{CertFile: "a", KeyFile: "b"},
	}
	assert.NoError(t, ok.validate())

	plain := SourceConfig{Name: "x"}
	assert.NoError(t, plain.validate())
}

func TestBuildDriverAppliesDefaults(t *testing.T) {
	sc := SourceConfig{Name: "x", Address: "127.0.0.1:0"}
	d, err := buildDriver(sc, phttp.NewPersistRegistry(), func(any) {})
	require.NoError(t, err)
	assert.Equal(t, "x", d.Name())
}

func TestBuildDriverPropagatesTLSLoadError(t *testing.T) {
	sc := SourceConfig{
		Name:      "x",
		Transport: phttp.TransportTLS,
		TLS:       &TLSConfig{CertFile: "/does/not/exist.pem", KeyFile: "/does/not/exist-key.pem"},
	}
	_, err := buildDriver(sc, phttp.NewPersistRegistry(), func(any) {})
	assert.Error(t, err)
}

func TestSourceConfigPollTimeoutUnpacks(t *testing.T) {
	cfg, err := confengine.LoadContent([]byte(`
agent:
  sources:
    - name: test-source
      address: "127.0.0.1:0"
      poll-timeout: 5s
server:
  enabled: false
`))
	require.NoError(t, err)

	var parsed Config
	require.NoError(t, cfg.UnpackChild("agent", &parsed))
	require.Len(t, parsed.Sources, 1)
	assert.Equal(t, 5*time.Second, parsed.Sources[0].PollTimeout)
}
