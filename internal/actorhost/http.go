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

package actorhost

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/SilasMarvin/wasmind-sub001/internal/actorproto"
)

// newHTTPRequest builds the outbound request and a cancel func the caller
// must invoke once the request (including every retry attempt) completes.
func newHTTPRequest(req actorproto.HTTPRequestArgs) (*http.Request, context.CancelFunc, error) {
	ctx := context.Background()
	cancel := func() {}
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		cancel()
		return nil, nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, cancel, nil
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

// limitedBuffer caps how much of a subprocess's stdout/stderr the host
// retains, mirroring spec §4.5's "maximum captured output bytes" exec
// capability parameter.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

const defaultOutputLimit = 1 << 20 // 1 MiB

func (b *limitedBuffer) Write(p []byte) (int, error) {
	limit := b.limit
	if limit <= 0 {
		limit = defaultOutputLimit
	}
	remaining := limit - b.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte { return b.buf.Bytes() }
