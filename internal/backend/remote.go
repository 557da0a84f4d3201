package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/arclight-os/core/internal/sched"
)

// remoteEnvelope is the wire form of an operation sent to a module
// endpoint. The token never leaves the core; modules see only the kind,
// resource, and payload of work the core already admitted.
type remoteEnvelope struct {
	Kind     string `json:"kind"`
	Resource string `json:"resource"`
	Payload  []byte `json:"payload,omitempty"`
}

// Remote forwards operations to an external module over HTTP with
// retries. Idempotency is the module's contract; the core retries only
// transport-level failures.
type Remote struct {
	base   string
	client *retryablehttp.Client
}

// NewRemote creates a remote backend for one module endpoint.
func NewRemote(baseURL string) *Remote {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil
	// Hand back the final response once retries are exhausted; the
	// default handler swallows it and the module's error body with it.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Remote{base: baseURL, client: client}
}

func (r *Remote) Execute(ctx context.Context, op sched.Operation) ([]byte, error) {
	body, err := sonic.Marshal(remoteEnvelope{
		Kind:     op.Kind,
		Resource: op.Resource.String(),
		Payload:  op.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("backend: encode operation: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, r.base+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: module %s unreachable: %w", r.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("backend: read module response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend: module %s returned %d: %s", r.base, resp.StatusCode, data)
	}
	return data, nil
}
