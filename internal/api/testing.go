package api

import "net/url"

// SetBaseForTesting repoints c at base, letting loader packages in other
// directories drive Client against an httptest.Server without a real
// LumiNUS host. Exported only for test use; production callers always go
// through New, which resolves against the real BaseURL.
func SetBaseForTesting(c *Client, base *url.URL) {
	c.base = base
}
