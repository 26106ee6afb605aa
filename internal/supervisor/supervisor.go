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

// Package supervisor implements the Lifecycle Supervisor (spec §4.12): it
// loads configuration, resolves and builds the closed set of actors, starts
// the bus/scope graph/actor host, spawns the root scope's actors (native
// core peers plus any auto_spawn external actor binaries), delivers the
// initial prompt, and blocks until the root scope exits.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/SilasMarvin/wasmind-sub001/internal/actorhost"
	"github.com/SilasMarvin/wasmind-sub001/internal/assistant"
	"github.com/SilasMarvin/wasmind-sub001/internal/buildcache"
	"github.com/SilasMarvin/wasmind-sub001/internal/bus"
	"github.com/SilasMarvin/wasmind-sub001/internal/compaction"
	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
	"github.com/SilasMarvin/wasmind-sub001/internal/llmclient"
	"github.com/SilasMarvin/wasmind-sub001/internal/manifest"
	"github.com/SilasMarvin/wasmind-sub001/internal/resolver"
	"github.com/SilasMarvin/wasmind-sub001/internal/scopegraph"
	"github.com/SilasMarvin/wasmind-sub001/internal/sourcecache"
	"github.com/SilasMarvin/wasmind-sub001/internal/userconfig"
)

// DefaultMaxRetries and DefaultBaseDelay are the spec §5 "Timeouts" values
// for outbound HTTP calls (LLM chat-completions and compaction's LLM call):
// up to 3 retries, 1s base backoff.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// MaxConcurrentBuilds bounds how many resolved actors' Build calls run at
// once (spec §4.3 imposes no ordering between independent builds; os/exec
// invocations of `go build` are CPU- and I/O-heavy enough that running the
// whole closed set unbounded would thrash on a large actor set).
const MaxConcurrentBuilds = 4

// Config parameterizes one Supervisor run.
type Config struct {
	// ConfigPath is the root user configuration TOML (spec §6 "User
	// configuration").
	ConfigPath string

	// WorkDir is the filesystem root external actors' ReadFile/WriteFile
	// capability resolves relative paths against. Defaults to the current
	// directory.
	WorkDir string

	Logger      hclog.Logger
	BusCapacity int
	MaxRetries  int
	BaseDelay   time.Duration

	// InitialPrompt, if non-empty, is delivered to the root Assistant as
	// soon as startup completes (spec §4.12's headless mode).
	InitialPrompt string
}

// Supervisor owns the full runtime for one process lifetime.
type Supervisor struct {
	cfg       Config
	log       hclog.Logger
	llmConfig userconfig.LLM

	bus   *bus.Bus
	graph *scopegraph.Graph
	host  *actorhost.Host

	loaded map[string]domain.LoadedActor // logical_name -> built external actor

	mu      sync.Mutex
	natives map[domain.Scope]*nativeScope

	exitOnce sync.Once
	exitCh   chan struct{}
}

// manifestLoaderAdapter backs resolver.ManifestLoader with the Source Cache
// plus the Wasmind.toml parser (spec §4.2 "the Resolver consults the
// manifest of each candidate source").
type manifestLoaderAdapter struct {
	sc *sourcecache.Cache
}

func (m *manifestLoaderAdapter) LoadManifest(source domain.SourceRef) (*domain.ActorManifest, error) {
	dir, err := m.sc.Materialize(source)
	if err != nil {
		return nil, fmt.Errorf("supervisor: materializing %s: %w", source, err)
	}
	return manifest.Load(dir)
}

// New loads configuration, resolves every declared actor, and builds (or
// loads from cache) the closed set (spec §4.12 "load configuration; resolve
// actors; build/load the closed set"). It does not yet start the bus, scope
// graph, or actor host; call Run for that.
func New(cfg Config) (*Supervisor, error) {
	log := cfg.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}

	userCfg, err := userconfig.Load(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("supervisor: loading configuration: %w", err)
	}

	workspaceRoot := userCfg.WorkspaceRoot
	if workspaceRoot == "" {
		workspaceRoot = filepath.Join(os.TempDir(), "wasmind-workspace")
	}
	cacheRoot := userCfg.CacheRoot
	if cacheRoot == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			cacheRoot = filepath.Join(dir, "wasmind")
		} else {
			cacheRoot = filepath.Join(os.TempDir(), "wasmind-cache")
		}
	}

	sc := sourcecache.New(workspaceRoot)
	loader := &manifestLoaderAdapter{sc: sc}
	resolved, err := resolver.New(loader).ResolveAll(userCfg.Actors, userCfg.ActorOverrides)
	if err != nil {
		return nil, fmt.Errorf("supervisor: resolving actors: %w", err)
	}

	builder := buildcache.New(cacheRoot)
	loaded, err := buildAll(builder, sc, resolved)
	if err != nil {
		return nil, err
	}

	return &Supervisor{
		cfg:       cfg,
		log:       log.Named("supervisor"),
		llmConfig: userCfg.LLM,
		loaded:    loaded,
		natives:   make(map[domain.Scope]*nativeScope),
		exitCh:    make(chan struct{}),
	}, nil
}

// Run starts the bus, scope graph, and actor host; spawns the root scope's
// native actors and every auto_spawn external actor binary in the closed
// set; delivers the initial prompt if one was configured; and blocks
// until the root scope emits Exit or ctx is canceled (spec §4.12).
func (s *Supervisor) Run(ctx context.Context) error {
	s.bus = bus.New(s.cfg.BusCapacity)
	s.graph = scopegraph.New(s.bus)
	s.host = actorhost.New(actorhost.Config{
		Bus:        hostBus{s.bus},
		Graph:      s.graph,
		WorkDir:    s.cfg.WorkDir,
		Logger:     s.log,
		MaxRetries: s.cfg.MaxRetries,
		BaseDelay:  s.cfg.BaseDelay,
	})

	sub := s.bus.Subscribe()
	defer sub.Close()
	go s.dispatchLoop(ctx, sub)

	rootExternal := s.topLevelAutoSpawnNames()
	s.spawnNative(ctx, domain.RootScope, rootExternal)
	if err := s.startExternalActors(domain.RootScope, rootExternal); err != nil {
		return fmt.Errorf("supervisor: starting root actors: %w", err)
	}

	if s.cfg.InitialPrompt != "" {
		root := s.nativeAt(domain.RootScope)
		if err := root.assistant.BeginUserTurn(ctx, s.cfg.InitialPrompt); err != nil {
			return fmt.Errorf("supervisor: delivering initial prompt: %w", err)
		}
	}

	select {
	case <-s.exitCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// topLevelAutoSpawnNames returns the logical names of every built actor
// flagged auto_spawn, dependencies included; all of them start in the root
// scope. A child scope's actors are started separately, by dispatchLoop's
// AgentSpawned case.
func (s *Supervisor) topLevelAutoSpawnNames() []string {
	var names []string
	for name, la := range s.loaded {
		if la.AutoSpawn {
			names = append(names, name)
		}
	}
	return names
}

// startExternalActors builds actorhost.ActorBinary values for the named,
// already-built actors and starts them under scope. A scope with no
// matching external actors is a no-op: StartScope is only called when there
// is at least one binary to launch.
func (s *Supervisor) startExternalActors(scope domain.Scope, names []string) error {
	binaries := make([]actorhost.ActorBinary, 0, len(names))
	for _, name := range names {
		la, ok := s.loaded[name]
		if !ok {
			continue
		}
		configJSON, err := marshalConfig(la.Config)
		if err != nil {
			return fmt.Errorf("supervisor: marshaling config for %s: %w", name, err)
		}
		binaries = append(binaries, actorhost.ActorBinary{ID: name, Path: la.BinaryPath, ConfigJSON: configJSON})
	}
	if len(binaries) == 0 {
		return nil
	}
	return s.host.StartScope(scope, binaries)
}

// buildAll materializes and builds every resolved actor, bounding
// concurrency to MaxConcurrentBuilds with errgroup.Group.SetLimit. Two
// logical names that happen to resolve to the same source hash (e.g. the
// same dependency pulled in under two different names) are serialized
// against each other via hashLocks so their first, cache-missing Build call
// never races on the same on-disk cache directory; distinct source hashes
// still build fully in parallel. Each goroutine writes only its own named
// slot of loaded, guarded by mu, so the result is identical to the
// sequential loop it replaces, just faster for a large closed set.
func buildAll(builder *buildcache.Builder, sc *sourcecache.Cache, resolved map[string]domain.ResolvedActor) (map[string]domain.LoadedActor, error) {
	loaded := make(map[string]domain.LoadedActor, len(resolved))
	var mu sync.Mutex
	locks := newHashLocks()

	g := new(errgroup.Group)
	g.SetLimit(MaxConcurrentBuilds)

	for name, r := range resolved {
		name, r := name, r
		g.Go(func() error {
			unlock := locks.lock(r.Source.Hash())
			defer unlock()

			dir, err := sc.Materialize(r.Source)
			if err != nil {
				return fmt.Errorf("supervisor: materializing %s: %w", name, err)
			}
			built, err := builder.Build(r, dir)
			if err != nil {
				return fmt.Errorf("supervisor: building %s: %w", name, err)
			}
			mu.Lock()
			loaded[name] = *built
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return loaded, nil
}

// hashLocks hands out a per-key mutex, created on first use, so callers
// building the same content-addressed source never run concurrently.
type hashLocks struct {
	mu    sync.Mutex
	perID map[string]*sync.Mutex
}

func newHashLocks() *hashLocks {
	return &hashLocks{perID: make(map[string]*sync.Mutex)}
}

func (h *hashLocks) lock(key string) (unlock func()) {
	h.mu.Lock()
	l, ok := h.perID[key]
	if !ok {
		l = &sync.Mutex{}
		h.perID[key] = l
	}
	h.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Supervisor) nativeAt(scope domain.Scope) *nativeScope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.natives[scope]
}

// newLLMClient builds an LLM client against baseURL, reusing the
// Supervisor's retry/model settings (spec §4.7.1's BaseURLUpdate
// reconfiguration: a fresh Client per call, never mutated in place).
func (s *Supervisor) newLLMClient(baseURL string) *llmclient.Client {
	return llmclient.New(llmclient.Config{
		BaseURL:    baseURL,
		Model:      s.llmConfig.Model,
		MaxRetries: s.cfg.MaxRetries,
		BaseDelay:  s.cfg.BaseDelay,
	})
}

// compactionClientFactory adapts newLLMClient to compaction.ClientFactory's
// return type.
func (s *Supervisor) compactionClientFactory(baseURL string) compaction.LLM {
	return s.newLLMClient(baseURL)
}

var _ assistant.LLM = (*llmclient.Client)(nil)

func marshalConfig(cfg map[string]any) ([]byte, error) {
	if cfg == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(cfg)
}

// hostBus adapts *bus.Bus to actorhost.Bus's Subscription shape, which
// deliberately mirrors but does not import internal/bus.Subscription (to
// keep the host -> bus dependency one-directional).
type hostBus struct{ b *bus.Bus }

func (h hostBus) Publish(env domain.Envelope) { h.b.Publish(env) }

func (h hostBus) Subscribe() *actorhost.Subscription {
	sub := h.b.Subscribe()
	return &actorhost.Subscription{Envelopes: sub.Envelopes, Lagged: sub.Lagged, CloseFn: sub.Close}
}
