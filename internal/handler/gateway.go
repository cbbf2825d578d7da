package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"chat-gateway-go/internal/client"
	"chat-gateway-go/internal/metrics"
	"chat-gateway-go/internal/model"
	"chat-gateway-go/internal/service"
	"chat-gateway-go/internal/stream"
)

// maxErrorBodyBytes bounds how much of a failed streaming handshake body is
// relayed to the client.
const maxErrorBodyBytes = 64 * 1024

// GatewayHandler serves the chat-completions and model directory endpoints.
type GatewayHandler struct {
	service *service.GatewayService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewGatewayHandler creates a GatewayHandler.
// The metrics parameter is optional; pass nil to disable stream metrics.
func NewGatewayHandler(svc *service.GatewayService, logger *slog.Logger, m *metrics.Metrics) *GatewayHandler {
	return &GatewayHandler{
		service: svc,
		logger:  logger.With("component", "gateway_handler"),
		metrics: m,
	}
}

// Models serves GET /v1/models: the cached or freshly fetched upstream
// directory, with the upstream status mirrored.
func (h *GatewayHandler) Models(c echo.Context) error {
	authorization, ok := model.BearerAuthorization(c.Request().Header)
	if !ok {
		return c.JSON(http.StatusUnauthorized, model.NewError("missing or invalid Authorization header"))
	}

	outcome, err := h.service.Models(c.Request().Context(), authorization)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.Blob(outcome.StatusCode, echo.MIMEApplicationJSON, outcome.Body)
}

// Chat serves POST /v1/chat/completions, relaying the upstream response
// verbatim for non-streaming requests and re-framing the upstream SSE stream
// for streaming ones.
func (h *GatewayHandler) Chat(c echo.Context) error {
	authorization, ok := model.BearerAuthorization(c.Request().Header)
	if !ok {
		return c.JSON(http.StatusUnauthorized, model.NewError("missing or invalid Authorization header"))
	}

	var req model.ChatCompletionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, model.NewError("invalid request body"))
	}

	if req.Stream {
		return h.chatStream(c, authorization, &req)
	}

	outcome, err := h.service.ChatCompletion(c.Request().Context(), authorization, &req)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.Blob(outcome.StatusCode, echo.MIMEApplicationJSON, outcome.Body)
}

// chatStream opens the upstream stream and relays it as re-framed SSE.
// An upstream error status is propagated before any event is emitted.
func (h *GatewayHandler) chatStream(c echo.Context, authorization string, req *model.ChatCompletionRequest) error {
	ctx := c.Request().Context()

	resp, err := h.service.OpenChatStream(ctx, authorization, req)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, rerr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		if rerr != nil {
			return h.mapError(c, rerr)
		}
		return c.Blob(resp.StatusCode, echo.MIMEApplicationJSON, body)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	// A relay failure after the 200 has been written cannot be converted into
	// an error response; the client sees a truncated stream and detects it
	// via connection closure.
	if err := stream.Relay(ctx, resp.Body, res, h.logger, h.metrics); err != nil {
		h.logger.Error("stream relay aborted",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}
	return nil
}

func (h *GatewayHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("gateway error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, service.ErrMissingModel) {
		return c.JSON(http.StatusBadRequest, model.NewError("model is required"))
	}

	var rex *client.RetryExhaustedError
	if errors.As(err, &rex) {
		return c.JSON(http.StatusInternalServerError, model.NewError("upstream unavailable after retries"))
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusInternalServerError, model.NewError("upstream request timed out"))
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusInternalServerError, model.NewError("client disconnected"))
	}

	return c.JSON(http.StatusInternalServerError, model.NewError("upstream request failed"))
}
