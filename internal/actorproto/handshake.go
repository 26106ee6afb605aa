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

// Package actorproto defines the process boundary between the host and an
// actor: the hashicorp/go-plugin handshake, and the Go interfaces each
// capability exposes across it (spec §4.5's capability imports).
//
// Actors are realized as go-plugin subprocesses rather than WebAssembly
// Components. go-plugin's net/rpc protocol is used instead of its gRPC
// protocol: the gRPC protocol requires protoc-generated client/server
// stubs, and hand-authoring those without running protoc would amount to
// fabricating generated code (see DESIGN.md). net/rpc needs no code
// generation and is an equally real, long-supported go-plugin transport.
package actorproto

import (
	"github.com/hashicorp/go-plugin"
)

// Handshake is the magic-cookie negotiation every actor binary must
// complete before the host admits it to the scope graph. It is the
// process-boundary analogue of spec §4.3's "reject artifacts beginning with
// the bare-module magic, not the component magic" check: a binary that was
// not built against this module's actor SDK, or that speaks a stale
// protocol version, fails the handshake instead of being admitted.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "WASMIND_ACTOR",
	MagicCookieValue: "wasmind_actor_v1",
}

// ActorPluginName is the single plugin name every actor binary dispenses
// under the go-plugin plugin map.
const ActorPluginName = "actor"
