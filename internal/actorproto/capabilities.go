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
	"time"

	"github.com/hashicorp/go-plugin"
)

// Capabilities is the host-provided surface an actor imports (spec §4.5):
// messaging, outbound HTTP, subprocess execution, scoped filesystem access,
// structured logging, and agent control (spawning children). The host runs
// the server; the actor dials it over the MuxBroker connection id it
// received in Actor.New's capabilitiesBrokerID argument, using
// DialCapabilities.
type Capabilities interface {
	// Publish broadcasts payload tagged messageType onto the bus, attributed
	// to the calling actor's own scope.
	Publish(messageType string, payload []byte) error

	// HTTPRequest performs an outbound HTTP call on the actor's behalf and
	// returns the raw response body, or an error if every retry attempt
	// failed (spec §4.5 "capped retries with backoff").
	HTTPRequest(req HTTPRequestArgs) (HTTPResponse, error)

	// Exec runs a subprocess under the host's supervision so that scope
	// cancellation can terminate it (spec §4.5 "exec capability... killed
	// when its owning scope is torn down").
	Exec(req ExecArgs) (ExecResult, error)

	// ReadFile and WriteFile grant filesystem access: a relative path
	// resolves against the host's configured work directory, and an absolute
	// path is used as given.
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error

	// Log emits one structured log line at the given level, tagged with the
	// calling actor's scope.
	Log(level string, message string, fields map[string]string) error

	// SpawnChild asks the host to create a child scope running actors
	// (spec §4.6 "spawn"). The host does not deliver the request's
	// InitialTask to the child scope.
	SpawnChild(req SpawnChildArgs) (childScope string, err error)
}

type HTTPRequestArgs struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

type ExecArgs struct {
	Program string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

type SpawnChildArgs struct {
	Name        string
	Actors      []string
	InitialTask string
}

// CapabilitiesPlugin wraps a host-side Capabilities implementation so it can
// be served over a MuxBroker connection dialed by the actor, mirroring
// go-plugin's documented bidirectional-communication pattern (a plugin
// calling back into the host that launched it).
type CapabilitiesPlugin struct {
	Impl Capabilities
}

func (p *CapabilitiesPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &capabilitiesRPCServer{impl: p.Impl}, nil
}

func (p *CapabilitiesPlugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &capabilitiesRPCClient{client: c}, nil
}

// DialCapabilities is called actor-side with the brokerID received in
// Actor.New to obtain a live Capabilities client.
func DialCapabilities(broker *plugin.MuxBroker, brokerID uint32) (Capabilities, error) {
	conn, err := broker.Dial(brokerID)
	if err != nil {
		return nil, err
	}
	return &capabilitiesRPCClient{client: rpc.NewClient(conn)}, nil
}

type publishArgs struct {
	MessageType string
	Payload     []byte
}

type logArgs struct {
	Level   string
	Message string
	Fields  map[string]string
}

type spawnChildReply struct {
	ChildScope string
}

type capabilitiesRPCServer struct {
	impl Capabilities
}

func (s *capabilitiesRPCServer) Publish(args publishArgs, _ *struct{}) error {
	return s.impl.Publish(args.MessageType, args.Payload)
}

func (s *capabilitiesRPCServer) HTTPRequest(args HTTPRequestArgs, reply *HTTPResponse) error {
	resp, err := s.impl.HTTPRequest(args)
	if err != nil {
		return err
	}
	*reply = resp
	return nil
}

func (s *capabilitiesRPCServer) Exec(args ExecArgs, reply *ExecResult) error {
	res, err := s.impl.Exec(args)
	if err != nil {
		return err
	}
	*reply = res
	return nil
}

func (s *capabilitiesRPCServer) ReadFile(path string, reply *[]byte) error {
	data, err := s.impl.ReadFile(path)
	if err != nil {
		return err
	}
	*reply = data
	return nil
}

type writeFileArgs struct {
	Path string
	Data []byte
}

func (s *capabilitiesRPCServer) WriteFile(args writeFileArgs, _ *struct{}) error {
	return s.impl.WriteFile(args.Path, args.Data)
}

func (s *capabilitiesRPCServer) Log(args logArgs, _ *struct{}) error {
	return s.impl.Log(args.Level, args.Message, args.Fields)
}

func (s *capabilitiesRPCServer) SpawnChild(args SpawnChildArgs, reply *spawnChildReply) error {
	scope, err := s.impl.SpawnChild(args)
	if err != nil {
		return err
	}
	reply.ChildScope = scope
	return nil
}

type capabilitiesRPCClient struct {
	client *rpc.Client
}

func (c *capabilitiesRPCClient) Publish(messageType string, payload []byte) error {
	return c.client.Call("Plugin.Publish", publishArgs{MessageType: messageType, Payload: payload}, &struct{}{})
}

func (c *capabilitiesRPCClient) HTTPRequest(req HTTPRequestArgs) (HTTPResponse, error) {
	var reply HTTPResponse
	err := c.client.Call("Plugin.HTTPRequest", req, &reply)
	return reply, err
}

func (c *capabilitiesRPCClient) Exec(req ExecArgs) (ExecResult, error) {
	var reply ExecResult
	err := c.client.Call("Plugin.Exec", req, &reply)
	return reply, err
}

func (c *capabilitiesRPCClient) ReadFile(path string) ([]byte, error) {
	var reply []byte
	err := c.client.Call("Plugin.ReadFile", path, &reply)
	return reply, err
}

func (c *capabilitiesRPCClient) WriteFile(path string, data []byte) error {
	return c.client.Call("Plugin.WriteFile", writeFileArgs{Path: path, Data: data}, &struct{}{})
}

func (c *capabilitiesRPCClient) Log(level, message string, fields map[string]string) error {
	return c.client.Call("Plugin.Log", logArgs{Level: level, Message: message, Fields: fields}, &struct{}{})
}

func (c *capabilitiesRPCClient) SpawnChild(req SpawnChildArgs) (string, error) {
	var reply spawnChildReply
	err := c.client.Call("Plugin.SpawnChild", req, &reply)
	return reply.ChildScope, err
}

var _ Capabilities = (*capabilitiesRPCClient)(nil)
