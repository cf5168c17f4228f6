package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgov/config"
	"github.com/BaSui01/agentgov/governance"
	"github.com/BaSui01/agentgov/governance/cost"
	"github.com/BaSui01/agentgov/internal/tlsutil"
	"github.com/BaSui01/agentgov/types"
)

// maxResponseBytes 下游响应体上限
const maxResponseBytes = 8 << 20

// response 下游响应格式
type response struct {
	Usage  cost.Usage      `json:"usage"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// HTTPOperation 通过 HTTP 调用业务后端
type HTTPOperation struct {
	url    string
	token  string
	client *http.Client
	logger *zap.Logger
}

// NewHTTPOperation 创建 HTTP 下游调用
func NewHTTPOperation(cfg config.DownstreamConfig, logger *zap.Logger) *HTTPOperation {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPOperation{
		url:    cfg.URL,
		token:  cfg.Token,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger.With(zap.String("component", "downstream")),
	}
}

// Invoke 实现 governance.Operation
func (o *HTTPOperation) Invoke(ctx context.Context, inv *governance.Invocation) (*governance.OperationResult, error) {
	body, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("marshal invocation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", inv.RequestID)
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewUpstreamError("downstream request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, types.NewUpstreamError("failed to read downstream response", err)
	}

	o.logger.Debug("downstream call finished",
		zap.String("request_id", inv.RequestID),
		zap.String("resource_type", inv.ResourceType),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	var out response
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, mapStatus(resp.StatusCode, out)
	}
	if decodeErr != nil {
		return nil, types.NewUpstreamError("invalid downstream response", decodeErr)
	}
	return &governance.OperationResult{Usage: out.Usage, Output: out.Output}, nil
}

// mapStatus 把下游状态码映射为结构化错误。429 与 5xx 可重试。
func mapStatus(status int, out response) *types.Error {
	msg := fmt.Sprintf("downstream returned status %d", status)
	if out.Error != nil && out.Error.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, out.Error.Message)
	}

	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		if status == http.StatusGatewayTimeout {
			return types.NewError(types.ErrUpstreamTimeout, msg).
				WithHTTPStatus(http.StatusGatewayTimeout).
				WithRetryable(true)
		}
		return types.NewError(types.ErrUpstreamError, msg).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return types.NewInvalidRequestError(msg)
	default:
		return types.NewError(types.ErrUpstreamError, msg).
			WithHTTPStatus(http.StatusBadGateway)
	}
}
