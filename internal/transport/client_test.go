package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logmapper/internal/retry"
)

type staticAuth struct {
	header string
}

func (a staticAuth) Authorization() (string, bool) {
	return a.header, a.header != ""
}

type captureDownloader struct {
	filename string
	data     []byte
	err      error
}

func (d *captureDownloader) Save(filename string, r io.Reader) error {
	if d.err != nil {
		return d.err
	}
	d.filename = filename
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	d.data = data
	return nil
}

func writeRawLogs(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.log")
	require.NoError(t, os.WriteFile(path, []byte(`{"src_ip":"10.0.0.1"}`), 0644))
	return path
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithHTTPClient(srv.Client()),
		WithRetry(retry.None()),
	}, opts...)
	return NewClient(srv.URL, staticAuth{header: "Bearer tok"}, opts...)
}

func TestStartWorkflowStreamed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "Acme FW", r.FormValue("product_name"))
		assert.Equal(t, "syslog", r.FormValue("product_log_name"))
		assert.Equal(t, "NETWORK_CONNECTION", r.FormValue("udm_event_type"))

		file, _, err := r.FormFile("raw_logs_path")
		require.NoError(t, err)
		sample, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Contains(t, string(sample), "src_ip")

		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"type":"thought","agent":"mapper","node_name":"plan","message_type":"AIMessage","content":"thinking"}`)
		fmt.Fprintln(w, `{"type":"thought","agent":"mapper","node_name":"lookup","message_type":"ToolMessage","content":"","tool_calls":{"name":"udm_search","args":"src_ip"}}`)
		fmt.Fprintln(w, `{"type":"result","thread_id":"abc","output":[{"RawLog Field Name":"src_ip","UDM Field Name":"principal.ip","Confidence Score":95},{"RawLog Field Name":"user","UDM Field Name":"principal.user.userid","Confidence Score":40}]}`)
	}))
	defer srv.Close()

	var events []ThoughtEvent
	c := newTestClient(t, srv)
	res, apiErr := c.StartWorkflow(context.Background(), StartForm{
		ProductName:    "Acme FW",
		ProductLogName: "syslog",
		UDMEventType:   "NETWORK_CONNECTION",
		RawLogsPath:    writeRawLogs(t),
	}, func(ev ThoughtEvent) {
		events = append(events, ev)
	})

	require.Nil(t, apiErr)
	require.NotNil(t, res)
	assert.Equal(t, "abc", res.ThreadID)
	require.Len(t, res.Output, 2)

	require.Len(t, events, 2)
	assert.Equal(t, "mapper", events[0].Agent)
	assert.Equal(t, "plan", events[0].Step.NodeName)
	assert.Equal(t, MessageTypeAI, events[0].Step.MessageType)
	// single tool_calls object normalized to a one-element sequence
	require.Len(t, events[1].Step.ToolCalls, 1)
	assert.Equal(t, "udm_search", events[1].Step.ToolCalls[0].Name)
}

func TestStartWorkflowSinkPanicIsolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"type":"thought","agent":"mapper","node_name":"a","message_type":"AIMessage","content":"1"}`)
		fmt.Fprintln(w, `{"type":"thought","agent":"mapper","node_name":"b","message_type":"AIMessage","content":"2"}`)
		fmt.Fprintln(w, `{"type":"result","thread_id":"t1","output":[]}`)
	}))
	defer srv.Close()

	seen := 0
	c := newTestClient(t, srv)
	res, apiErr := c.StartWorkflow(context.Background(), StartForm{
		ProductName:    "p",
		ProductLogName: "l",
		UDMEventType:   "e",
		RawLogsPath:    writeRawLogs(t),
	}, func(ev ThoughtEvent) {
		seen++
		panic("consumer bug")
	})

	require.Nil(t, apiErr)
	assert.Equal(t, "t1", res.ThreadID)
	assert.Equal(t, 2, seen, "a panicking sink must not abort the stream")
}

func TestResumeWorkflowPlainJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/resume_workflow", r.URL.Path)
		var payload struct {
			ThreadID string `json:"thread_id"`
			Feedback string `json:"feedback"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "abc", payload.ThreadID)
		assert.Equal(t, "map user to target instead", payload.Feedback)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"thread_id":"abc","output":[{"UDM Field Name":"target.user"}],"message":"rerun complete"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	res, apiErr := c.ResumeWorkflow(context.Background(), "abc", "map user to target instead", nil)
	require.Nil(t, apiErr)
	assert.Equal(t, "rerun complete", res.Message)
	require.Len(t, res.Output, 1)
	assert.Equal(t, "target.user", res.Output[0].UDMField())
}

func TestWorkflowResultRepair(t *testing.T) {
	// trailing comma: invalid JSON that the repair pass fixes
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"thread_id":"abc","output":[{"UDM Field Name":"principal.ip"},]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	res, apiErr := c.ResumeWorkflow(context.Background(), "abc", "fb", nil)
	require.Nil(t, apiErr)
	require.Len(t, res.Output, 1)
}

func TestStatusMessageTable(t *testing.T) {
	cases := []struct {
		status int
		want   string
	}{
		{400, "Invalid request"},
		{401, "Authentication failed"},
		{403, "Access denied"},
		{404, "Endpoint not found"},
		{422, "Validation failed"},
		{429, "Too many requests"},
		{500, "Server error"},
		{502, "Service unavailable"},
		{503, "Service unavailable"},
		{504, "Service unavailable"},
		{418, "unexpected status 418"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("status %d", tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			unauthorized := false
			c := newTestClient(t, srv, WithUnauthorizedHook(func() { unauthorized = true }))
			res, apiErr := c.ResumeWorkflow(context.Background(), "abc", "fb", nil)

			assert.Nil(t, res)
			require.NotNil(t, apiErr)
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Contains(t, apiErr.Message, tc.want)
			assert.Equal(t, tc.status == 401, unauthorized, "401 and only 401 runs the logout hook")
			assert.Equal(t, tc.status == 401, apiErr.Unauthorized())
		})
	}
}

func TestStartResumeVerbInMessage(t *testing.T) {
	assert.Contains(t, statusMessage("start", 400), "start")
	assert.Contains(t, statusMessage("resume", 400), "resume")
	assert.NotEqual(t, statusMessage("start", 400), statusMessage("resume", 400))
}

func TestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately: connection refused

	c := NewClient(srv.URL, staticAuth{}, WithRetry(retry.None()))
	res, apiErr := c.ResumeWorkflow(context.Background(), "abc", "fb", nil)
	assert.Nil(t, res)
	require.NotNil(t, apiErr)
	assert.Equal(t, 0, apiErr.Status)
	assert.Contains(t, apiErr.Message, "Network error")
}

func TestNetworkFailureRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			// kill the connection mid-flight so the client sees EOF
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"thread_id":"abc","output":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithRetry(retry.Config{MaxRetries: 2, BaseDelay: 1, MaxDelay: 1, Multiplier: 1}))
	res, apiErr := c.ResumeWorkflow(context.Background(), "abc", "fb", nil)
	require.Nil(t, apiErr)
	assert.Equal(t, "abc", res.ThreadID)
	assert.Equal(t, 2, attempts)
}

func TestGenerateConf(t *testing.T) {
	t.Run("server-provided filename", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/generate_conf", r.URL.Path)
			assert.Equal(t, "abc", r.URL.Query().Get("thread_id"))
			w.Header().Set("Content-Disposition", `attachment; filename="out.conf"`)
			w.Write([]byte("filter { }"))
		}))
		defer srv.Close()

		dl := &captureDownloader{}
		c := newTestClient(t, srv)
		apiErr := c.GenerateConf(context.Background(), "abc", dl)
		require.Nil(t, apiErr)
		assert.Equal(t, "out.conf", dl.filename)
		assert.Equal(t, "filter { }", string(dl.data))
	})

	t.Run("fallback filename", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("x"))
		}))
		defer srv.Close()

		dl := &captureDownloader{}
		c := newTestClient(t, srv)
		require.Nil(t, c.GenerateConf(context.Background(), "abc", dl))
		assert.Equal(t, DefaultConfName, dl.filename)
	})

	t.Run("401 runs logout hook", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		unauthorized := false
		dl := &captureDownloader{}
		c := newTestClient(t, srv, WithUnauthorizedHook(func() { unauthorized = true }))
		apiErr := c.GenerateConf(context.Background(), "abc", dl)
		require.NotNil(t, apiErr)
		assert.True(t, apiErr.Unauthorized())
		assert.True(t, unauthorized)
		assert.Empty(t, dl.filename)
	})
}

func TestArtifactFilename(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{`attachment; filename="out.conf"`, "out.conf"},
		{`attachment; filename=out.conf`, "out.conf"},
		{`attachment`, DefaultConfName},
		{``, DefaultConfName},
		{`attachment; filename=""`, DefaultConfName},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, artifactFilename(tc.header), "header %q", tc.header)
	}
}

func TestThoughtStepToolCallNormalization(t *testing.T) {
	t.Run("sequence", func(t *testing.T) {
		var s ThoughtStep
		require.NoError(t, json.Unmarshal([]byte(`{"node_name":"n","message_type":"ToolMessage","content":"","tool_calls":[{"name":"a"},{"name":"b"}]}`), &s))
		require.Len(t, s.ToolCalls, 2)
		assert.Equal(t, "a", s.ToolCalls[0].Name)
		assert.Equal(t, "b", s.ToolCalls[1].Name)
	})

	t.Run("single object", func(t *testing.T) {
		var s ThoughtStep
		require.NoError(t, json.Unmarshal([]byte(`{"node_name":"n","message_type":"ToolMessage","tool_calls":{"name":"only","args":{"q":"x"},"output":"found"}}`), &s))
		require.Len(t, s.ToolCalls, 1)
		assert.Equal(t, "only", s.ToolCalls[0].Name)
		assert.Equal(t, "found", s.ToolCalls[0].Output)
	})

	t.Run("absent and null", func(t *testing.T) {
		for _, src := range []string{`{"node_name":"n"}`, `{"node_name":"n","tool_calls":null}`} {
			var s ThoughtStep
			require.NoError(t, json.Unmarshal([]byte(src), &s))
			assert.Empty(t, s.ToolCalls)
		}
	})
}

func TestStreamEndsWithoutResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"type":"thought","agent":"mapper","node_name":"a","message_type":"AIMessage","content":"1"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	res, apiErr := c.ResumeWorkflow(context.Background(), "abc", "fb", nil)
	assert.Nil(t, res)
	require.NotNil(t, apiErr)
	assert.Equal(t, 0, apiErr.Status)
}

func TestMultipartBodyIsReplayable(t *testing.T) {
	form := StartForm{ProductName: "p", ProductLogName: "l", UDMEventType: "e", RawLogsPath: writeRawLogs(t)}
	body, ct, err := buildStartBody(form)
	require.NoError(t, err)
	assert.Contains(t, ct, "multipart/form-data")
	req, err := http.NewRequest(http.MethodPost, "http://example/start_workflow", bytes.NewReader(body))
	require.NoError(t, err)
	assert.NotNil(t, req.GetBody)
}
