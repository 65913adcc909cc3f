package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"firestige.xyz/floodgate/internal/core"
)

const (
	defaultRemoteTimeout  = 500 * time.Millisecond
	defaultRemoteMaxConns = 64
)

// RemoteParams configures the model server client.
type RemoteParams struct {
	Endpoint string        `mapstructure:"endpoint"`  // required, e.g. http://127.0.0.1:8500/predict
	Timeout  time.Duration `mapstructure:"timeout"`   // upper bound when ctx has no deadline
	MaxConns int           `mapstructure:"max_conns"` // per-host connection cap
}

type predictRequest struct {
	Features []float64 `json:"features"`
	Names    []string  `json:"names"`
}

type predictResponse struct {
	Label *int `json:"label"`
}

// Remote asks an HTTP model server for a verdict. Any transport or protocol
// failure is reported as core.ErrClassifierUnavailable.
type Remote struct {
	endpoint string
	timeout  time.Duration
	client   *fasthttp.Client
	names    []string
}

// NewRemote validates p and builds the client.
func NewRemote(p RemoteParams) (*Remote, error) {
	if p.Endpoint == "" {
		return nil, core.NewConfigError("classifier.params.endpoint", "is required for the remote classifier")
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultRemoteTimeout
	}
	if p.MaxConns <= 0 {
		p.MaxConns = defaultRemoteMaxConns
	}
	return &Remote{
		endpoint: p.Endpoint,
		timeout:  p.Timeout,
		client: &fasthttp.Client{
			Name:                "floodgate",
			MaxConnsPerHost:     p.MaxConns,
			ReadTimeout:         p.Timeout,
			WriteTimeout:        p.Timeout,
			MaxIdleConnDuration: 30 * time.Second,
		},
		names: core.FeatureNames[:],
	}, nil
}

// Name returns "remote".
func (r *Remote) Name() string { return KindRemote }

// Predict posts the vector and decodes the label.
func (r *Remote) Predict(ctx context.Context, f core.FeatureVector) (core.Label, error) {
	if err := ctx.Err(); err != nil {
		return core.Normal, err
	}

	body, err := json.Marshal(predictRequest{Features: f.Slice(), Names: r.names})
	if err != nil {
		return core.Normal, fmt.Errorf("%w: encode request: %v", core.ErrClassifierUnavailable, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := r.client.DoDeadline(req, resp, deadline); err != nil {
		return core.Normal, fmt.Errorf("%w: %v", core.ErrClassifierUnavailable, err)
	}

	if code := resp.StatusCode(); code < 200 || code > 299 {
		return core.Normal, fmt.Errorf("%w: model server returned status %d", core.ErrClassifierUnavailable, code)
	}

	var out predictResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return core.Normal, fmt.Errorf("%w: decode response: %v", core.ErrClassifierUnavailable, err)
	}
	if out.Label == nil {
		return core.Normal, fmt.Errorf("%w: response has no label", core.ErrClassifierUnavailable)
	}
	switch *out.Label {
	case 0:
		return core.Normal, nil
	case 1:
		return core.Attack, nil
	}
	return core.Normal, fmt.Errorf("%w: unknown label %d", core.ErrClassifierUnavailable, *out.Label)
}

// Close releases idle connections.
func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
