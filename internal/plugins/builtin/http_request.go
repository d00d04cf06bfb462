package builtin

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/citadel-agent/routines/internal/activity"
	"github.com/citadel-agent/routines/internal/engineerr"
	"github.com/citadel-agent/routines/internal/pluginschema"
)

// HTTPRequest performs an outbound HTTP call. Unlike the rest of the
// built-in set it talks to the outside world, so its errors are
// classified retryable/fatal the way engineerr expects plugin errors to
// arrive: a transport failure or 5xx is retryable, a 4xx is fatal.
type HTTPRequest struct {
	Client *http.Client
}

func (HTTPRequest) Definition() pluginschema.Definition {
	return pluginschema.Definition{
		ID:      "http-request",
		Name:    "HTTP Request",
		Version: "1.0.0",
		ConfigSchema: pluginschema.Schema{
			{Name: "url", Type: pluginschema.TypeString, Required: true},
			{Name: "method", Type: pluginschema.TypeString},
			{Name: "body", Type: pluginschema.TypeString},
			{Name: "headers", Type: pluginschema.TypeObject},
		},
		OutputSchema: pluginschema.Schema{
			{Name: "out", Type: pluginschema.TypeObject},
		},
	}
}

func (h HTTPRequest) Invoke(ctx context.Context, req activity.Request) (activity.Response, error) {
	method, _ := req.Parameters["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	url, _ := req.Parameters["url"].(string)
	if url == "" {
		return activity.Response{}, engineerr.NewInvalidInputError("http-request: \"url\" parameter is required", nil)
	}

	var body io.Reader
	if b, ok := req.Parameters["body"].(string); ok && b != "" {
		body = strings.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return activity.Response{}, engineerr.NewInvalidInputError("http-request: malformed request", err)
	}
	if headers, ok := req.Parameters["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				httpReq.Header.Set(k, s)
			}
		}
	}
	for alias, value := range req.Credentials {
		if strings.HasSuffix(alias, ".token") {
			httpReq.Header.Set("Authorization", "Bearer "+value)
		}
	}

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return activity.Response{}, engineerr.NewPluginRetryableError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return activity.Response{}, engineerr.NewPluginRetryableError(err)
	}

	result := map[string]any{
		"status": resp.StatusCode,
		"body":   string(data),
	}

	if resp.StatusCode >= 500 {
		return activity.Response{}, engineerr.NewPluginRetryableError(&statusError{resp.StatusCode})
	}
	if resp.StatusCode >= 400 {
		return activity.Response{}, engineerr.NewPluginFatalError(&statusError{resp.StatusCode})
	}

	return activity.Response{Outputs: map[string][]any{"out": {result}}}, nil
}

type statusError struct{ code int }

func (e *statusError) Error() string {
	return "http-request: unexpected status " + http.StatusText(e.code)
}
