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
	"testing"

	"github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/require"
)

func TestHandshakeConfigIsStable(t *testing.T) {
	require.Equal(t, uint(1), Handshake.ProtocolVersion)
	require.Equal(t, "WASMIND_ACTOR", Handshake.MagicCookieKey)
	require.NotEmpty(t, Handshake.MagicCookieValue)
	require.Equal(t, "actor", ActorPluginName)
}

func TestPluginTypesSatisfyPluginInterface(t *testing.T) {
	var _ plugin.Plugin = (*ActorPlugin)(nil)
	var _ plugin.Plugin = (*CapabilitiesPlugin)(nil)
}

func TestValidateBinaryRejectsNonHandshakingBinary(t *testing.T) {
	err := ValidateBinary("/bin/true")
	require.Error(t, err)

	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
}
