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

// Package actorhost launches actor subprocesses, wires each one's
// Capabilities surface back to the bus and scope graph, and dispatches bus
// envelopes to them single-threaded per scope with parallelism across scopes
// (spec §4.5).
package actorhost

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/SilasMarvin/wasmind-sub001/internal/actorproto"
	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
	"github.com/SilasMarvin/wasmind-sub001/internal/httpretry"
)

// Bus is the publish/subscribe surface the host forwards envelopes over.
// internal/bus.Bus satisfies this.
type Bus interface {
	Publish(env domain.Envelope)
	Subscribe() *Subscription
}

// Subscription mirrors internal/bus.Subscription's shape so this package
// does not import internal/bus directly, keeping the dependency direction
// host -> bus rather than a cycle.
type Subscription struct {
	Envelopes <-chan domain.Envelope
	Lagged    <-chan struct{}
	CloseFn   func()
}

// ScopeGraph is the subset of internal/scopegraph.Graph the host needs:
// forwarding filters and child-spawn bookkeeping.
type ScopeGraph interface {
	Accepts(scope, fromScope domain.Scope) bool
	Spawn(parent domain.Scope, actorIDs []string, name string) domain.Scope
	Terminate(scope domain.Scope)
}

// ActorBinary is one resolved, built actor ready to be instantiated into a
// scope: a go-plugin-speaking executable plus its resolved JSON config.
type ActorBinary struct {
	ID         string
	Path       string
	ConfigJSON []byte
}

// Config parameterizes one Host.
type Config struct {
	Bus        Bus
	Graph      ScopeGraph
	WorkDir    string // directory the ReadFile/WriteFile capability resolves relative paths against
	Logger     hclog.Logger
	MaxRetries int
	BaseDelay  time.Duration
}

// Host manages every live actor process and its per-scope dispatch loop.
type Host struct {
	bus        Bus
	graph      ScopeGraph
	workDir    string
	log        hclog.Logger
	maxRetries int
	baseDelay  time.Duration

	mu     sync.Mutex
	scopes map[domain.Scope]*scopeRuntime
}

// scopeRuntime is the dispatch loop and live instance set for one scope.
type scopeRuntime struct {
	scope     domain.Scope
	instances map[string]*instance // keyed by actor id
	sub       *Subscription
	cancel    context.CancelFunc
	execs     execRegistry
}

// instance is one running actor process.
type instance struct {
	id     string
	client *plugin.Client
	actor  actorproto.Actor
}

// execRegistry tracks in-flight subprocesses started via the Exec
// capability so a scope teardown can kill them (spec §4.5 cancellation).
type execRegistry struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

func (r *execRegistry) add(cmd *exec.Cmd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.procs == nil {
		r.procs = make(map[int]*exec.Cmd)
	}
	r.procs[cmd.Process.Pid] = cmd
}

func (r *execRegistry) remove(cmd *exec.Cmd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, cmd.Process.Pid)
}

func (r *execRegistry) killAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cmd := range r.procs {
		_ = cmd.Process.Kill()
	}
}

// New builds a Host. WorkDir defaults to the current directory.
func New(cfg Config) *Host {
	log := cfg.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = "."
	}
	return &Host{
		bus:        cfg.Bus,
		graph:      cfg.Graph,
		workDir:    workDir,
		log:        log.Named("actorhost"),
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		scopes:     make(map[domain.Scope]*scopeRuntime),
	}
}

// StartScope launches one go-plugin subprocess per binary, hands each its
// scope-bound Capabilities client, and begins this scope's single-threaded
// dispatch loop over the bus (spec §4.5 "single-threaded per scope").
func (h *Host) StartScope(scope domain.Scope, binaries []ActorBinary) error {
	h.mu.Lock()
	if _, exists := h.scopes[scope]; exists {
		h.mu.Unlock()
		return fmt.Errorf("actorhost: scope %s already started", scope)
	}
	h.mu.Unlock()

	rt := &scopeRuntime{scope: scope, instances: make(map[string]*instance)}

	for _, b := range binaries {
		inst, err := h.launch(scope, b, rt)
		if err != nil {
			rt.teardown()
			return fmt.Errorf("actorhost: launching actor %s for scope %s: %w", b.ID, scope, err)
		}
		rt.instances[b.ID] = inst
	}

	sub := h.bus.Subscribe()
	rt.sub = sub
	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel

	h.mu.Lock()
	h.scopes[scope] = rt
	h.mu.Unlock()

	go h.dispatchLoop(ctx, rt)
	return nil
}

func (h *Host) launch(scope domain.Scope, b ActorBinary, rt *scopeRuntime) (*instance, error) {
	caps := &hostCapabilities{host: h, scope: scope, rt: rt}

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: actorproto.Handshake,
		Plugins: plugin.PluginSet{
			actorproto.ActorPluginName: &actorproto.ActorPlugin{},
		},
		Cmd:              exec.Command(b.Path),
		Logger:           h.log.Named(b.ID),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("dialing plugin rpc: %w", err)
	}

	raw, err := rpcClient.Dispense(actorproto.ActorPluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("dispensing actor: %w", err)
	}
	actor, ok := raw.(actorproto.Actor)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("dispensed plugin does not implement Actor")
	}

	broker := rpcClient.(*plugin.RPCClient).Broker()
	brokerID := broker.NextId()
	go broker.AcceptAndServe(brokerID, &actorproto.CapabilitiesPlugin{Impl: caps})

	if err := actor.New(string(scope), b.ConfigJSON, brokerID); err != nil {
		client.Kill()
		return nil, fmt.Errorf("actor New: %w", err)
	}

	return &instance{id: b.ID, client: client, actor: actor}, nil
}

// dispatchLoop is the single goroutine that ever calls HandleMessage on any
// instance hosted at rt.scope, guaranteeing in-order, single-threaded
// delivery while distinct scopes' loops run concurrently.
func (h *Host) dispatchLoop(ctx context.Context, rt *scopeRuntime) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-rt.sub.Lagged:
			h.log.Warn("scope lagged bus delivery, some envelopes were dropped", "scope", rt.scope)
		case env, ok := <-rt.sub.Envelopes:
			if !ok {
				return
			}
			if !h.graph.Accepts(rt.scope, env.FromScope) {
				continue
			}
			h.deliver(rt, env)
		}
	}
}

func (h *Host) deliver(rt *scopeRuntime, env domain.Envelope) {
	wire := actorproto.EnvelopeRPC{FromScope: string(env.FromScope), MessageType: env.MessageType, Payload: env.Payload}
	for _, inst := range rt.instances {
		if err := inst.actor.HandleMessage(wire); err != nil {
			h.log.Error("actor handle_message failed", "scope", rt.scope, "actor", inst.id, "error", err)
		}
	}
}

// StopScope tears down every instance hosted at scope: it stops forwarding
// envelopes, kills in-flight subprocess capability calls, calls each
// actor's Shutdown, and kills its process (spec §4.5 cancellation).
func (h *Host) StopScope(scope domain.Scope) {
	h.mu.Lock()
	rt, ok := h.scopes[scope]
	if ok {
		delete(h.scopes, scope)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	rt.teardown()
}

func (rt *scopeRuntime) teardown() {
	if rt.cancel != nil {
		rt.cancel()
	}
	if rt.sub != nil && rt.sub.CloseFn != nil {
		rt.sub.CloseFn()
	}
	rt.execs.killAll()
	for _, inst := range rt.instances {
		_ = inst.actor.Shutdown()
		if inst.client != nil {
			inst.client.Kill()
		}
	}
}

// hostCapabilities implements actorproto.Capabilities for one actor
// instance, scoped to the scope it was launched under.
type hostCapabilities struct {
	host  *Host
	scope domain.Scope
	rt    *scopeRuntime
}

func (c *hostCapabilities) Publish(messageType string, payload []byte) error {
	c.host.bus.Publish(domain.Envelope{FromScope: c.scope, MessageType: messageType, Payload: payload})
	return nil
}

func (c *hostCapabilities) HTTPRequest(req actorproto.HTTPRequestArgs) (actorproto.HTTPResponse, error) {
	retrier := httpretry.New(
		httpretry.WithMaxRetries(c.host.maxRetries),
		httpretry.WithBaseDelay(c.host.baseDelay),
	)
	httpReq, cancel, err := newHTTPRequest(req)
	if err != nil {
		return actorproto.HTTPResponse{}, err
	}
	defer cancel()
	resp, err := retrier.Do(httpReq)
	if err != nil {
		return actorproto.HTTPResponse{}, err
	}
	defer resp.Body.Close()
	body, err := readAll(resp.Body)
	if err != nil {
		return actorproto.HTTPResponse{}, err
	}
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return actorproto.HTTPResponse{StatusCode: resp.StatusCode, Headers: headers, Body: body}, nil
}

func (c *hostCapabilities) Exec(req actorproto.ExecArgs) (actorproto.ExecResult, error) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, req.Program, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = req.Env

	var stdout, stderr limitedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return actorproto.ExecResult{ExitCode: -1}, fmt.Errorf("starting process: %w", err)
	}
	c.rt.execs.add(cmd)
	err := cmd.Wait()
	c.rt.execs.remove(cmd)

	result := actorproto.ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("running process: %w", err)
	}
	result.ExitCode = cmd.ProcessState.ExitCode()
	return result, nil
}

func (c *hostCapabilities) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(c.resolvePath(path))
}

func (c *hostCapabilities) WriteFile(path string, data []byte) error {
	resolved := c.resolvePath(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	return os.WriteFile(resolved, data, 0o644)
}

func (c *hostCapabilities) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.host.workDir, path)
}

func (c *hostCapabilities) Log(level, message string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	logger := c.host.log.Named(string(c.scope))
	switch level {
	case "debug":
		logger.Debug(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "error":
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}
	return nil
}

func (c *hostCapabilities) SpawnChild(req actorproto.SpawnChildArgs) (string, error) {
	child := c.host.graph.Spawn(c.scope, req.Actors, req.Name)
	return string(child), nil
}

var _ actorproto.Capabilities = (*hostCapabilities)(nil)
