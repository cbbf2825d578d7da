// Package service implements the chat forwarding and directory lookup logic.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"chat-gateway-go/internal/cache"
	"chat-gateway-go/internal/client"
	"chat-gateway-go/internal/config"
	"chat-gateway-go/internal/model"
)

// ErrMissingModel is returned when a chat request carries no model name.
var ErrMissingModel = errors.New("model is required")

const userAgent = "chat-gateway-go/1.0"

// GatewayService forwards chat requests upstream and serves the model directory.
type GatewayService struct {
	client *client.UpstreamClient
	models *cache.ModelCache
	cfg    *config.Config
	logger *slog.Logger
}

// NewGatewayService creates a GatewayService.
func NewGatewayService(c *client.UpstreamClient, models *cache.ModelCache, cfg *config.Config, logger *slog.Logger) *GatewayService {
	return &GatewayService{
		client: c,
		models: models,
		cfg:    cfg,
		logger: logger.With("component", "gateway_service"),
	}
}

// Models returns the cached or freshly fetched model directory. The caller's
// Authorization header is forwarded verbatim on a refresh.
func (s *GatewayService) Models(ctx context.Context, authorization string) (*model.Outcome, error) {
	return s.models.Get(ctx, authorization)
}

// ChatCompletion forwards a non-streaming chat request upstream with the
// retry policy applied and returns the buffered response for verbatim relay.
func (s *GatewayService) ChatCompletion(ctx context.Context, authorization string, req *model.ChatCompletionRequest) (*model.Outcome, error) {
	body, err := s.upstreamBody(req)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("forwarding chat completion", "model", req.Model, "stream", false)

	outcome, err := s.client.FetchWithRetry(ctx, http.MethodPost, s.cfg.Upstream.ChatURL, s.upstreamHeader(authorization), body)
	if err != nil {
		return nil, fmt.Errorf("forward chat completion: %w", err)
	}
	return outcome, nil
}

// OpenChatStream issues the streaming chat request without retry and returns
// the live upstream response. The caller owns the body and must close it;
// canceling ctx (e.g. on client disconnect) cancels the upstream request.
func (s *GatewayService) OpenChatStream(ctx context.Context, authorization string, req *model.ChatCompletionRequest) (*model.UpstreamResponse, error) {
	body, err := s.upstreamBody(req)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("forwarding chat completion", "model", req.Model, "stream", true)

	resp, err := s.client.DoStream(ctx, http.MethodPost, s.cfg.Upstream.ChatURL, s.upstreamHeader(authorization), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("open chat stream: %w", err)
	}
	return resp, nil
}

// upstreamBody builds the forwarded JSON body. Only model, messages, stream
// and (when provided) max_tokens are forwarded; client-side extras are dropped
// by construction of ChatCompletionRequest.
func (s *GatewayService) upstreamBody(req *model.ChatCompletionRequest) ([]byte, error) {
	if req.Model == "" {
		return nil, ErrMissingModel
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode upstream body: %w", err)
	}
	return body, nil
}

func (s *GatewayService) upstreamHeader(authorization string) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", authorization)
	h.Set("User-Agent", userAgent)
	return h
}
