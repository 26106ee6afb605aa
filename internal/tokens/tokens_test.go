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

package tokens

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCounterFallsBackToCl100kBase(t *testing.T) {
	c, err := NewCounter("not-a-real-model")
	require.NoError(t, err)
	require.Greater(t, c.Count("hello world"), 0)
}

func TestCountMessagesIncludesFramingOverhead(t *testing.T) {
	c, err := NewCounter("gpt-4o")
	require.NoError(t, err)

	single := c.CountMessages([]Message{{Role: "user", Content: "hi"}})
	bare := c.Count("user") + c.Count("hi")
	require.Greater(t, single, bare, "per-message framing overhead should be added on top of raw content tokens")
}

func TestCountMessagesGrowsWithMessageCount(t *testing.T) {
	c, err := NewCounter("gpt-4o")
	require.NoError(t, err)

	one := c.CountMessages([]Message{{Role: "user", Content: "hi"}})
	two := c.CountMessages([]Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello there"}})
	require.Greater(t, two, one)
}
