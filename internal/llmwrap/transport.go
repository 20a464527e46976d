package llmwrap

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// trackingTransport wraps an underlying RoundTripper, timing each
// call and handing the (possibly streamed) response body to the
// family-specific usage extractor before returning it to the caller
// untouched. Extraction failures are swallowed — a parsing miss must
// never surface as a request failure.
type trackingTransport struct {
	base           http.RoundTripper
	family         Family
	recorder       Recorder
	conversationID string
}

func (t *trackingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	provider := providerForRequest(t.family, req)
	t.forceUsageOnStream(req)
	start := time.Now()

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}

	isStream := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")

	if isStream {
		// Tee the body through a pipe so the caller keeps reading the
		// live stream while a background goroutine parses its own copy
		// for usage, rather than buffering the whole response before
		// handing any of it back.
		pr, pw := io.Pipe()
		resp.Body = &teeReadCloser{r: io.TeeReader(resp.Body, pw), rc: resp.Body, pw: pw}
		latency := time.Since(start).Seconds()
		go t.extractStream(provider, latency, pr)
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		return resp, nil
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	latency := time.Since(start).Seconds()
	go t.extract(provider, latency, body)
	return resp, nil
}

// teeReadCloser forwards reads from rc to the caller while mirroring
// every byte into pw, and closes pw on EOF/error/Close so the
// background parser reading from the pipe's other end always
// terminates once the caller is done with the response.
type teeReadCloser struct {
	r  io.Reader
	rc io.ReadCloser
	pw *io.PipeWriter
}

func (t *teeReadCloser) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil {
		if err == io.EOF {
			t.pw.Close()
		} else {
			t.pw.CloseWithError(err)
		}
	}
	return n, err
}

func (t *teeReadCloser) Close() error {
	t.pw.Close()
	return t.rc.Close()
}

// forceUsageOnStream rewrites an outgoing OpenAI-compatible streaming
// request to set stream_options.include_usage, without which the
// upstream never emits the final usage-bearing chunk parseOpenAIStream
// looks for. Anthropic and Gemini streams report usage without an
// opt-in flag, so only the OpenAI family is rewritten.
func (t *trackingTransport) forceUsageOnStream(req *http.Request) {
	if t.family != FamilyOpenAI || req.Body == nil {
		return
	}
	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		req.Body = io.NopCloser(bytes.NewReader(nil))
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		req.Body = io.NopCloser(bytes.NewReader(raw))
		req.ContentLength = int64(len(raw))
		return
	}
	if streaming, _ := payload["stream"].(bool); streaming {
		opts, _ := payload["stream_options"].(map[string]any)
		if opts == nil {
			opts = map[string]any{}
		}
		opts["include_usage"] = true
		payload["stream_options"] = opts
		if rewritten, err := json.Marshal(payload); err == nil {
			raw = rewritten
		}
	}

	req.Body = io.NopCloser(bytes.NewReader(raw))
	req.ContentLength = int64(len(raw))
	req.Header.Set("Content-Length", strconv.Itoa(len(raw)))
}

// extract parses a fully-buffered non-streaming response body.
func (t *trackingTransport) extract(provider string, latency float64, body []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("llmwrap: usage extraction panicked, dropping record", "family", t.family, "recover", r)
		}
	}()

	var usage extractedUsage
	var ok bool
	switch t.family {
	case FamilyOpenAI:
		usage, ok = parseOpenAINonStream(body)
	case FamilyAnthropic:
		usage, ok = parseAnthropicNonStream(body)
	case FamilyGemini:
		usage, ok = parseGemini(body, false)
	default:
		return
	}
	t.record(provider, latency, usage, ok)
}

// extractStream parses a streamed response body as it arrives via a
// pipe fed by teeReadCloser, running entirely off the request path.
func (t *trackingTransport) extractStream(provider string, latency float64, r *io.PipeReader) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Debug("llmwrap: usage extraction panicked, dropping record", "family", t.family, "recover", rec)
		}
		io.Copy(io.Discard, r)
		r.Close()
	}()

	var usage extractedUsage
	var ok bool
	switch t.family {
	case FamilyOpenAI:
		usage, ok = parseOpenAIStream(bufio.NewScanner(r))
	case FamilyAnthropic:
		usage, ok = parseAnthropicStream(bufio.NewScanner(r))
	case FamilyGemini:
		body, _ := io.ReadAll(r)
		usage, ok = parseGemini(body, true)
	default:
		return
	}
	t.record(provider, latency, usage, ok)
}

func (t *trackingTransport) record(provider string, latency float64, usage extractedUsage, ok bool) {
	if !ok {
		slog.Debug("llmwrap: no usage data found in response, dropping record", "family", t.family)
		return
	}
	if usage.Model == "" {
		usage.Model = "unknown"
	}
	t.recorder.Record(provider, usage.Model, usage.InputTokens, usage.OutputTokens, latency, usage.CachedTokens, t.conversationID, nil)
}

// extractedUsage is the family-agnostic result of parsing one response
// body, whatever its wire shape.
type extractedUsage struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CachedTokens int
}

func providerForRequest(family Family, req *http.Request) string {
	switch family {
	case FamilyOpenAI:
		return DetectOpenAICompatibleProvider(req.URL.String())
	case FamilyAnthropic:
		return "anthropic"
	case FamilyGemini:
		return "google"
	default:
		return "unknown"
	}
}
