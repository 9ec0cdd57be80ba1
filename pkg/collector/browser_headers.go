package collector

import (
	"math/rand"
	"net/http"
)

// acceptLanguages contains common browser Accept-Language values
var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9",
	"en-US,en;q=0.9,es;q=0.8",
	"en-US,en;q=0.9,fr;q=0.8",
	"en-US,en;q=0.9,de;q=0.8",
}

// addBrowserHeaders adds browser-like headers. Several publishers (Wiley,
// Science) reject requests that don't look like a browser.
func addBrowserHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/rss+xml,application/atom+xml,application/json;q=0.9,application/xml;q=0.9,text/xml;q=0.8,text/html;q=0.7,*/*;q=0.5")
	req.Header.Set("Cache-Control", "no-cache")

	// randomized language
	req.Header.Set("Accept-Language", acceptLanguages[rand.Intn(len(acceptLanguages))]) //nolint:gosec // non-cryptographic randomness is fine for header variation

	req.Header.Set("Connection", "keep-alive")
}
