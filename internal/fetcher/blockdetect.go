package fetcher

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
)

// BlockType describes the kind of anti-bot response detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// Size bounds for pages that can be read as a captcha interstitial or a JS
// shell. Real report pages are far larger and often embed a captcha widget
// on their sample-request forms.
const (
	captchaMaxBytes = 32 << 10
	jsShellMaxBytes = 2000
)

// BlockedError is a response that carried a bot challenge instead of the
// report. It is transient: challenges usually clear after a backoff.
type BlockedError struct {
	URL        string
	StatusCode int
	Type       BlockType
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked by %s challenge (http %d) at %s", e.Type, e.StatusCode, e.URL)
}

// Transient is what resilience.IsTransient checks.
func (e *BlockedError) Transient() bool { return true }

// HTTPStatus returns the status code of the challenge response.
func (e *BlockedError) HTTPStatus() int { return e.StatusCode }

// DetectBlock checks a response for signs of anti-bot protection. body may
// be a prefix of the full response.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	// Cloudflare: 403/503 with cf-* headers.
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-mitigated") != "" {
			return true, BlockCloudflare
		}
		if strings.EqualFold(resp.Header.Get("server"), "cloudflare") {
			return true, BlockCloudflare
		}
	}

	lower := bytes.ToLower(body)

	// Cloudflare challenge page markers. The challenge-platform script alone
	// is not one: Cloudflare injects it into ordinary pages too.
	if bytes.Contains(lower, []byte("cf-browser-verification")) ||
		bytes.Contains(lower, []byte("_cf_chl_opt")) ||
		bytes.Contains(lower, []byte("checking your browser before accessing")) ||
		bytes.Contains(lower, []byte("<title>just a moment...</title>")) {
		return true, BlockCloudflare
	}

	// Captcha interstitials.
	if len(body) <= captchaMaxBytes && bytes.Contains(lower, []byte("captcha")) {
		return true, BlockCaptcha
	}

	// JS-only shell: very small body with noscript or meta refresh.
	if len(body) > jsShellMaxBytes {
		return false, BlockNone
	}
	if bytes.Contains(lower, []byte("<noscript")) && bytes.Contains(lower, []byte("javascript")) {
		return true, BlockJSShell
	}
	if bytes.Contains(lower, []byte(`meta http-equiv="refresh"`)) {
		return true, BlockJSShell
	}

	return false, BlockNone
}
