package scrape

import (
	"bytes"
	"net/http"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockThrottle   BlockType = "throttle"
	BlockJSShell    BlockType = "js_shell"
)

// blockMarkers are lower-cased body fragments that identify an interstitial
// served in place of a catalog page. Checked in order.
var blockMarkers = []struct {
	marker []byte
	kind   BlockType
}{
	{[]byte("checking your browser"), BlockCloudflare},
	{[]byte("cf-browser-verification"), BlockCloudflare},
	{[]byte("cf-chl-"), BlockCloudflare},
	{[]byte("captcha"), BlockCaptcha},
	{[]byte("too many requests"), BlockThrottle},
	{[]byte("rate limit exceeded"), BlockThrottle},
	{[]byte("access denied"), BlockThrottle},
}

// shellSize is the body size below which a page with no content but a
// script redirect is treated as a challenge shell.
const shellSize = 2000

// DetectBlock checks a response the server reported as successful for signs
// that it is really an anti-bot interstitial.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	// Cloudflare marks its own error pages; a 403/503 with these headers is
	// a challenge even before the body is read.
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("server") == "cloudflare" {
			return true, BlockCloudflare
		}
	}

	lower := bytes.ToLower(body)
	if markersApply(lower) {
		for _, m := range blockMarkers {
			if bytes.Contains(lower, m.marker) {
				return true, m.kind
			}
		}
	}

	if len(body) < shellSize {
		if bytes.Contains(lower, []byte("<noscript")) && bytes.Contains(lower, []byte("javascript")) {
			return true, BlockJSShell
		}
		if bytes.Contains(lower, []byte(`http-equiv="refresh"`)) {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}

// markersApply reports whether body markers should be trusted. A page with a
// data table, or a full-size page with a heading, is catalog content even if a
// widget or footer mentions a captcha.
func markersApply(lower []byte) bool {
	if bytes.Contains(lower, []byte("<table")) {
		return false
	}
	return len(lower) < shellSize || !bytes.Contains(lower, []byte("<h1"))
}
