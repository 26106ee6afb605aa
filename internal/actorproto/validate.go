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
	"fmt"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
)

// ValidateBinary launches binaryPath as a go-plugin subprocess just long
// enough to complete the handshake, and kills it immediately after. This is
// the process-boundary analogue of spec §4.3's magic-byte check: instead of
// reading the first bytes of a component artifact, the candidate binary
// must speak the actor handshake before the build cache admits it.
func ValidateBinary(binaryPath string) error {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins: plugin.PluginSet{
			ActorPluginName: &ActorPlugin{},
		},
		Cmd:              exec.Command(binaryPath),
		Logger:           hclog.NewNullLogger(),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})
	defer client.Kill()

	rpcClient, err := client.Client()
	if err != nil {
		return &HandshakeError{BinaryPath: binaryPath, Err: err}
	}

	if _, err := rpcClient.Dispense(ActorPluginName); err != nil {
		return &HandshakeError{BinaryPath: binaryPath, Err: err}
	}

	return nil
}

// HandshakeError reports a binary that failed to complete the actor
// handshake: it is not a buildable actor, regardless of whether `go build`
// itself succeeded.
type HandshakeError struct {
	BinaryPath string
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("actorproto: %q did not complete the actor handshake: %v", e.BinaryPath, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }
