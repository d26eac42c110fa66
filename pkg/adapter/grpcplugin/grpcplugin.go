// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package grpcplugin hosts out-of-process framework adapters behind
// hashicorp/go-plugin: a third-party binary implements RemoteAdapter and
// is launched as a subprocess, while every side-effecting HandleMessage
// call is still gated by this process's sandbox and policy engine —
// only framework-specific config parsing and dispatch run out-of-process.
package grpcplugin

import (
	"context"
	"net/rpc"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	hcplugin "github.com/hashicorp/go-plugin"

	"github.com/kadirpekel/agentkernel/pkg/adapter"
	"github.com/kadirpekel/agentkernel/pkg/errs"
	"github.com/kadirpekel/agentkernel/pkg/policy"
	"github.com/kadirpekel/agentkernel/pkg/sandbox"
)

// Handshake pins the magic cookie exchanged on plugin startup so a
// stray executable can't be dispensed as an adapter plugin.
var Handshake = hcplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "AGENTKERNEL_PLUGIN",
	MagicCookieValue: "agentkernel_adapter_v1",
}

// pluginKey is the single entry this package dispenses from a plugin
// binary's plugin map.
const pluginKey = "adapter"

// RemoteAdapter is the interface a plugin binary implements. Config and
// message payloads cross the RPC boundary as opaque bytes so plugins can
// use whatever encoding their framework needs internally. Load returns
// the plugin's required capability set as capability name strings
// (sandbox.Capability values), validated host-side before use.
type RemoteAdapter interface {
	Load(config []byte) (requiredCapabilities []string, err error)
	HandleMessage(kind string, payload []byte) error
	Stop() error
}

// Plugin is the hashicorp/go-plugin Plugin implementation shared by both
// sides of the RPC boundary; plugin binaries register it under
// pluginKey in their own plugin map.
type Plugin struct {
	Impl RemoteAdapter
}

func (p *Plugin) Server(*hcplugin.MuxBroker) (any, error) {
	return &rpcServer{impl: p.Impl}, nil
}

func (p *Plugin) Client(_ *hcplugin.MuxBroker, c *rpc.Client) (any, error) {
	return &rpcClient{client: c}, nil
}

var _ hcplugin.Plugin = (*Plugin)(nil)

type loadArgs struct{ Config []byte }
type loadReply struct{ Capabilities []string }
type handleMessageArgs struct {
	Kind    string
	Payload []byte
}

type rpcServer struct {
	impl RemoteAdapter
}

func (s *rpcServer) Load(args loadArgs, reply *loadReply) error {
	caps, err := s.impl.Load(args.Config)
	reply.Capabilities = caps
	return err
}

func (s *rpcServer) HandleMessage(args handleMessageArgs, _ *struct{}) error {
	return s.impl.HandleMessage(args.Kind, args.Payload)
}

func (s *rpcServer) Stop(_ struct{}, _ *struct{}) error {
	return s.impl.Stop()
}

type rpcClient struct {
	client *rpc.Client
}

func (c *rpcClient) Load(config []byte) ([]string, error) {
	var reply loadReply
	err := c.client.Call("Plugin.Load", loadArgs{Config: config}, &reply)
	return reply.Capabilities, err
}

func (c *rpcClient) HandleMessage(kind string, payload []byte) error {
	return c.client.Call("Plugin.HandleMessage", handleMessageArgs{Kind: kind, Payload: payload}, &struct{}{})
}

func (c *rpcClient) Stop() error {
	return c.client.Call("Plugin.Stop", struct{}{}, &struct{}{})
}

var _ RemoteAdapter = (*rpcClient)(nil)

// Loader launches adapter plugin binaries over hashicorp/go-plugin.
type Loader struct {
	logger hclog.Logger
}

// NewLoader returns a Loader with an hclog logger named for this
// component, matching the teacher's plugin-loader logging convention.
func NewLoader() *Loader {
	return &Loader{
		logger: hclog.New(&hclog.LoggerOptions{
			Name:  "agentkernel-plugin",
			Level: hclog.Info,
		}),
	}
}

// Launch starts the plugin binary at path and wraps it in an
// adapter.Adapter that still runs Load/Authorize/HandleMessage/Stop
// through adapter.Base's state machine and sandbox/policy gate.
func (l *Loader) Launch(path string, eval adapter.PolicyEvaluator) (*HostAdapter, error) {
	client := hcplugin.NewClient(&hcplugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins:         map[string]hcplugin.Plugin{pluginKey: &Plugin{}},
		Cmd:             exec.Command(path),
		Logger:          l.logger,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, errs.Wrap(errs.Internal, "connect to adapter plugin", err)
	}
	raw, err := rpcClient.Dispense(pluginKey)
	if err != nil {
		client.Kill()
		return nil, errs.Wrap(errs.Internal, "dispense adapter plugin", err)
	}
	remote, ok := raw.(RemoteAdapter)
	if !ok {
		client.Kill()
		return nil, errs.New(errs.Internal, "plugin does not implement RemoteAdapter")
	}

	return &HostAdapter{Base: adapter.NewBase(eval), remote: remote, client: client}, nil
}

// HostAdapter is the host-side adapter.Adapter for a plugin process: the
// lifecycle state machine and the sandbox/policy gate run locally
// (inherited from adapter.Base), while config parsing and message
// dispatch are delegated to the plugin over RPC.
type HostAdapter struct {
	*adapter.Base
	remote RemoteAdapter
	client *hcplugin.Client
}

func (a *HostAdapter) Load(_ context.Context, config []byte) error {
	capNames, err := a.remote.Load(config)
	if err != nil {
		return errs.Wrap(errs.InvalidConfiguration, "plugin rejected config", err)
	}
	caps := make([]sandbox.Capability, 0, len(capNames))
	for _, name := range capNames {
		c := sandbox.Capability(name)
		if !c.Valid() {
			return errs.New(errs.InvalidConfiguration, "plugin declared unknown capability").WithDetail("capability", name)
		}
		caps = append(caps, c)
	}
	return a.SetLoaded(caps)
}

func (a *HostAdapter) Start(_ context.Context, sb *sandbox.Sandbox) error {
	return a.StartWithSandbox(sb)
}

// HandleMessage authorizes the message's declared capability (the first
// one required by the plugin, since a plugin call is opaque to this
// process) against the sandbox and policy engine before forwarding the
// call to the plugin process.
func (a *HostAdapter) HandleMessage(_ context.Context, msg adapter.Message) error {
	if err := a.RequireRunning(); err != nil {
		return err
	}
	payload, _ := msg.Payload.([]byte)
	caps := a.GetRequiredCapabilities()
	if len(caps) > 0 {
		if err := a.Authorize(caps[0], sandbox.CheckOptions{Operation: msg.Kind}, policy.Request{
			Type:    policy.RuleShell,
			Command: msg.Kind,
		}); err != nil {
			return err
		}
	}
	return a.remote.HandleMessage(msg.Kind, payload)
}

func (a *HostAdapter) Stop(_ context.Context) error {
	err := a.remote.Stop()
	a.client.Kill()
	if stopErr := a.StopAdapter(); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}

var _ adapter.Adapter = (*HostAdapter)(nil)
