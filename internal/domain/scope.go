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

package domain

import "github.com/google/uuid"

// Scope is an opaque identifier for an agent instance. Scopes form a tree:
// every scope except the root has a parent.
type Scope string

// NewScope mints a fresh, random scope id.
func NewScope() Scope {
	return Scope(uuid.New().String())
}

// RootScope is the well-known scope id of the process's root agent.
const RootScope Scope = "root"

// Envelope is the unit of broadcast on the message bus.
type Envelope struct {
	FromScope   Scope
	MessageType string
	Payload     []byte
}
