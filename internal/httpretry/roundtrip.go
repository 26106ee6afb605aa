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

package httpretry

import "net/http"

// roundTripper adapts a *Client to http.RoundTripper, so it can be dropped
// into any caller that takes a plain *http.Client (sashabaranov/go-openai's
// Config.HTTPClient, most notably) without that caller knowing retries are
// happening underneath it.
type roundTripper struct {
	client *Client
}

func (r roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return r.client.Do(req)
}

// AsHTTPClient wraps c as a plain *http.Client whose RoundTrip performs c's
// retry policy. The returned client has no Timeout of its own: per-request
// timeouts are expected to come from the request's context, matching spec
// §4.5's per-request (not per-client) timeout contract.
func AsHTTPClient(c *Client) *http.Client {
	return &http.Client{Transport: roundTripper{client: c}}
}
