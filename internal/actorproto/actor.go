// Copyright 2025 Kadir Pekel
//
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

package actorproto

import (
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// Actor is the two-operation export surface spec §4.5 requires of every
// actor: `new(scope, config_blob) -> state` and `handle_message(envelope)`.
// An actor binary implements this interface and calls Serve to dispense it;
// the host consumes it through ActorPlugin.Client.
type Actor interface {
	// New initializes the actor for scope, with its resolved config
	// serialized as JSON, and the broker connection id it should dial to
	// reach its Capabilities client.
	New(scope string, configJSON []byte, capabilitiesBrokerID uint32) error

	// HandleMessage delivers one bus envelope the host's scope filter
	// accepted for this instance.
	HandleMessage(env EnvelopeRPC) error

	// Shutdown releases any resources the actor holds before its process is
	// terminated.
	Shutdown() error
}

// EnvelopeRPC is the wire form of domain.Envelope crossing the process
// boundary.
type EnvelopeRPC struct {
	FromScope   string
	MessageType string
	Payload     []byte
}

// ActorPlugin adapts an Actor implementation to go-plugin's net/rpc
// transport. Actor binaries set Impl; the host leaves Impl nil and only
// ever calls Client.
type ActorPlugin struct {
	Impl Actor
}

func (p *ActorPlugin) Server(b *plugin.MuxBroker) (interface{}, error) {
	return &actorRPCServer{impl: p.Impl, broker: b}, nil
}

func (p *ActorPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &actorRPCClient{client: c, broker: b}, nil
}

// --- guest-side server: receives calls forwarded from the host ---

type actorRPCServer struct {
	impl   Actor
	broker *plugin.MuxBroker
}

type newArgs struct {
	Scope                string
	ConfigJSON           []byte
	CapabilitiesBrokerID uint32
}

func (s *actorRPCServer) New(args newArgs, _ *struct{}) error {
	return s.impl.New(args.Scope, args.ConfigJSON, args.CapabilitiesBrokerID)
}

func (s *actorRPCServer) HandleMessage(env EnvelopeRPC, _ *struct{}) error {
	return s.impl.HandleMessage(env)
}

func (s *actorRPCServer) Shutdown(struct{}, *struct{}) error {
	return s.impl.Shutdown()
}

// --- host-side client: the interface actorhost.Host drives ---

type actorRPCClient struct {
	client *rpc.Client
	broker *plugin.MuxBroker
}

func (c *actorRPCClient) New(scope string, configJSON []byte, capabilitiesBrokerID uint32) error {
	return c.client.Call("Plugin.New", newArgs{Scope: scope, ConfigJSON: configJSON, CapabilitiesBrokerID: capabilitiesBrokerID}, &struct{}{})
}

func (c *actorRPCClient) HandleMessage(env EnvelopeRPC) error {
	return c.client.Call("Plugin.HandleMessage", env, &struct{}{})
}

func (c *actorRPCClient) Shutdown() error {
	return c.client.Call("Plugin.Shutdown", struct{}{}, &struct{}{})
}

var _ Actor = (*actorRPCClient)(nil)
