// Package transport executes the remote workflow operations over HTTP,
// normalizing transport and status-code failures into typed results and
// demultiplexing streamed responses into thought events plus a final mapping
// payload.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/logmapper/internal/retry"
)

// DefaultConfName is the artifact filename used when the server provides no
// Content-Disposition.
const DefaultConfName = "generated_conf.conf"

// AuthProvider supplies the Authorization header value for outbound requests.
type AuthProvider interface {
	Authorization() (string, bool)
}

// Downloader receives the generate-artifact response body.
type Downloader interface {
	Save(filename string, r io.Reader) error
}

// StartForm is the multipart payload for a start-workflow call.
type StartForm struct {
	ProductName    string
	ProductLogName string
	UDMEventType   string
	RawLogsPath    string
}

// Client drives the three workflow operations. At most one call of each kind
// is in flight at a time; the session layer enforces that, the client only
// rate-limits.
type Client struct {
	baseURL        string
	http           *http.Client
	auth           AuthProvider
	limiter        *rate.Limiter
	retry          retry.Config
	onUnauthorized func()
	log            zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry overrides the network-failure retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithUnauthorizedHook installs the side effect run on any 401 response.
func WithUnauthorizedHook(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient builds a workflow client for the given API base URL.
func NewClient(baseURL string, auth AuthProvider, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Minute},
		auth:    auth,
		limiter: rate.NewLimiter(rate.Every(1*time.Second), 5),
		retry:   retry.TransportConfig(),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartWorkflow uploads a raw log sample and streams the first mapping run.
// Incremental thoughts go to sink; the returned result is the terminal mapping
// payload. Failures come back as *APIError with nil result, never a panic or
// a raw transport error.
func (c *Client) StartWorkflow(ctx context.Context, form StartForm, sink ThoughtSink) (*WorkflowResult, *APIError) {
	const verb = "start"

	body, contentType, err := buildStartBody(form)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to build start payload")
		return nil, &APIError{Message: networkMessage(verb)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/start_workflow", bytes.NewReader(body))
	if err != nil {
		return nil, &APIError{Message: networkMessage(verb)}
	}
	req.Header.Set("Content-Type", contentType)

	return c.doWorkflow(req, verb, sink)
}

// ResumeWorkflow sends user feedback into an existing thread and streams the
// rerun.
func (c *Client) ResumeWorkflow(ctx context.Context, threadID, feedback string, sink ThoughtSink) (*WorkflowResult, *APIError) {
	const verb = "resume"

	payload := fmt.Sprintf(`{"thread_id":%q,"feedback":%q}`, threadID, feedback)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/resume_workflow", strings.NewReader(payload))
	if err != nil {
		return nil, &APIError{Message: networkMessage(verb)}
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doWorkflow(req, verb, sink)
}

// GenerateConf fetches the parser configuration artifact for a thread and
// hands it to the downloader under the server-provided filename, falling back
// to DefaultConfName. A 401 runs the unauthorized hook and returns the typed
// error; the session layer keeps it silent since logout is the visible signal.
func (c *Client) GenerateConf(ctx context.Context, threadID string, dl Downloader) *APIError {
	const verb = "generate"

	endpoint := c.baseURL + "/generate_conf?thread_id=" + url.QueryEscape(threadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &APIError{Message: networkMessage(verb)}
	}

	resp, apiErr := c.send(req, verb)
	if apiErr != nil {
		return apiErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return c.statusError(verb, resp.StatusCode)
	}

	filename := artifactFilename(resp.Header.Get("Content-Disposition"))
	if err := dl.Save(filename, resp.Body); err != nil {
		c.log.Error().Err(err).Str("filename", filename).Msg("failed to save artifact")
		return &APIError{Message: "Failed to save the generated configuration"}
	}
	c.log.Info().Str("filename", filename).Msg("artifact downloaded")
	return nil
}

// doWorkflow runs a start/resume request and demuxes the response.
func (c *Client) doWorkflow(req *http.Request, verb string, sink ThoughtSink) (*WorkflowResult, *APIError) {
	resp, apiErr := c.send(req, verb)
	if apiErr != nil {
		return nil, apiErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, c.statusError(verb, resp.StatusCode)
	}

	result, err := c.demux(resp, sink)
	if err != nil {
		c.log.Error().Err(err).Str("verb", verb).Msg("failed to decode workflow response")
		return nil, &APIError{Message: networkMessage(verb)}
	}
	return result, nil
}

// send executes the request, retrying network-level failures. Requests built
// from in-memory bodies carry GetBody, so replays are safe.
func (c *Client) send(req *http.Request, verb string) (*http.Response, *APIError) {
	if header, ok := c.auth.Authorization(); ok {
		req.Header.Set("Authorization", header)
	}
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, &APIError{Message: networkMessage(verb)}
	}

	var resp *http.Response
	var permErr error
	attempt := 0
	err := retry.Do(req.Context(), c.retry, func() error {
		r := req
		if attempt > 0 {
			if req.Body != nil && req.GetBody == nil {
				return fmt.Errorf("request body not replayable")
			}
			r = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return err
				}
				r.Body = body
			}
		}
		attempt++
		res, err := c.http.Do(r)
		if err != nil {
			if retry.IsRetryableError(err) {
				return err
			}
			// non-transient failures are not worth replaying
			permErr = err
			return nil
		}
		resp = res
		return nil
	})
	if err == nil && permErr != nil {
		err = permErr
	}
	if err != nil {
		c.log.Warn().Err(err).Str("verb", verb).Int("attempts", attempt).Msg("request never reached the server")
		return nil, &APIError{Message: networkMessage(verb)}
	}
	return resp, nil
}

func (c *Client) statusError(verb string, status int) *APIError {
	if status == http.StatusUnauthorized && c.onUnauthorized != nil {
		c.onUnauthorized()
	}
	c.log.Warn().Int("status", status).Str("verb", verb).Msg("workflow call failed")
	return &APIError{Status: status, Message: statusMessage(verb, status)}
}

// buildStartBody assembles the multipart start payload.
func buildStartBody(form StartForm) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := map[string]string{
		"product_name":     form.ProductName,
		"product_log_name": form.ProductLogName,
		"udm_event_type":   form.UDMEventType,
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}

	f, err := os.Open(form.RawLogsPath)
	if err != nil {
		return nil, "", fmt.Errorf("open raw logs: %w", err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile("raw_logs_path", filepath.Base(form.RawLogsPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// artifactFilename extracts the filename= parameter from a
// Content-Disposition header, stripping surrounding quotes, with a fixed
// fallback when absent.
func artifactFilename(disposition string) string {
	if disposition == "" {
		return DefaultConfName
	}
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if name := strings.Trim(params["filename"], `"`); name != "" {
			return name
		}
	}
	// tolerate bare filename=... headers that ParseMediaType rejects
	for _, part := range strings.Split(disposition, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "filename=") {
			if name := strings.Trim(strings.TrimPrefix(part, "filename="), `"`); name != "" {
				return name
			}
		}
	}
	return DefaultConfName
}
