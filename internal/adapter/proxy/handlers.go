package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qapish/labman/internal/adapter/registry"
	"github.com/qapish/labman/internal/core/domain"
	"github.com/qapish/labman/internal/util"
)

const (
	headerContentType   = "Content-Type"
	headerContentLength = "Content-Length"
	contentTypeJSON     = "application/json"

	proxyEndpointLabel = "proxy"
	modelsListLabel    = "models_list"
)

// chatCompletionRequest captures only the fields labman routes on. The
// original body bytes are forwarded unchanged.
type chatCompletionRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// handleModels serves the union view of every discovered model.
func (s *Service) handleModels(w http.ResponseWriter, r *http.Request) {
	caps := s.registry.ToNodeCapabilities()

	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(domain.NewModelListResponse(caps.Models))

	s.metrics.RecordRequestEnd(proxyEndpointLabel, modelsListLabel, true, -1)
}

// handleChatCompletions routes a chat completion to an upstream advertising
// the requested model and relays the response, streaming or buffered.
func (s *Service) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	started := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("proxy request panic recovered",
				"panic", fmt.Sprintf("%v", rec),
				"request_id", requestID,
				"path", r.URL.Path)
			if w.Header().Get(headerContentType) == "" {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, defaultMaxRequestBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "", domain.ErrKindBadRequest, "failed to read request body")
		return
	}

	var req chatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Model == "" {
		s.writeError(w, http.StatusBadRequest, "", domain.ErrKindBadRequest, "request body is not a valid chat completion")
		return
	}

	selection, ok := s.registry.AcquireEndpointForModel(req.Model)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "", domain.ErrKindModelNotFound,
			"no healthy endpoint provides model "+req.Model)
		return
	}

	// exactly one decrement per acquire, on every exit path
	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() { s.registry.Release(selection.Endpoint) })
	}
	defer release()

	rlog := s.logger.With("request_id", requestID, "endpoint", selection.Endpoint, "model", req.Model)
	rlog.Debug("request dispatching")

	s.metrics.RecordRequestStart(selection.Endpoint, req.Model)

	upstreamCtx, cancel := context.WithTimeout(r.Context(), s.configuration.responseTimeout())
	defer cancel()

	targetURL := util.JoinURLPath(selection.BaseURL, "chat/completions")
	proxyReq, err := http.NewRequestWithContext(upstreamCtx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		s.finishWithError(w, rlog, selection, req.Model, started, domain.ErrKindUpstreamRequest, err)
		return
	}
	copyRequestHeaders(proxyReq, r)

	resp, err := s.transport.RoundTrip(proxyReq)
	if err != nil {
		kind := domain.ErrKindUpstreamRequest
		if isTimeout(err) {
			kind = domain.ErrKindTimeout
		}
		s.finishWithError(w, rlog, selection, req.Model, started, kind, err)
		return
	}
	defer resp.Body.Close()

	if req.Stream {
		s.relayStream(w, r, resp, rlog, selection, req.Model, requestID, started)
		return
	}
	s.relayBuffered(w, resp, rlog, selection, req.Model, requestID, started)
}

// relayBuffered reads the whole upstream body before mirroring status and
// headers, so a read failure can still surface as a 502.
func (s *Service) relayBuffered(w http.ResponseWriter, resp *http.Response, rlog *slog.Logger, selection registry.Selection, model, requestID string, started time.Time) {
	upstreamBody, err := io.ReadAll(resp.Body)
	if err != nil {
		s.finishWithError(w, rlog, selection, model, started, domain.ErrKindUpstreamBodyRead, err)
		return
	}

	copyResponseHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)
	written, _ := w.Write(upstreamBody)

	s.finish(rlog, selection, model, requestID, resp.StatusCode, int64(written), started)
}

// relayStream forwards upstream bytes as they arrive, flushing per chunk.
// The body is opaque: no decoding, no re-chunking.
func (s *Service) relayStream(w http.ResponseWriter, r *http.Request, resp *http.Response, rlog *slog.Logger, selection registry.Selection, model, requestID string, started time.Time) {
	copyResponseHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)

	buffer := s.bufferPool.Get()
	defer s.bufferPool.Put(buffer)

	var written int64
	for {
		n, readErr := resp.Body.Read(*buffer)
		if n > 0 {
			wn, writeErr := w.Write((*buffer)[:n])
			written += int64(wn)
			if writeErr != nil {
				// client went away; drop the upstream connection
				rlog.Debug("client disconnected during stream", "bytes", written)
				s.events.Publish(Event{
					Type:      EventTypeClientDisconnect,
					Timestamp: time.Now(),
					RequestID: requestID,
					Endpoint:  selection.Endpoint,
					Model:     model,
					BytesSent: written,
					Duration:  time.Since(started),
				})
				s.metrics.RecordRequestEnd(selection.Endpoint, model, false, time.Since(started).Seconds())
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF && !errors.Is(readErr, context.Canceled) {
				rlog.Warn("upstream stream ended with error", "error", readErr)
			}
			break
		}
	}

	s.finish(rlog, selection, model, requestID, resp.StatusCode, written, started)
}

func (s *Service) finish(rlog *slog.Logger, selection registry.Selection, model, requestID string, statusCode int, bytesSent int64, started time.Time) {
	duration := time.Since(started)
	success := statusCode >= 200 && statusCode < 300

	s.metrics.RecordRequestEnd(selection.Endpoint, model, success, duration.Seconds())

	eventType := EventTypeSuccess
	if !success {
		eventType = EventTypeError
	}
	s.events.Publish(Event{
		Type:       eventType,
		Timestamp:  time.Now(),
		RequestID:  requestID,
		Endpoint:   selection.Endpoint,
		Model:      model,
		StatusCode: statusCode,
		BytesSent:  bytesSent,
		Duration:   duration,
	})

	rlog.Debug("request completed",
		"status", statusCode,
		"latency_ms", duration.Milliseconds(),
		"bytes", bytesSent)
}

func (s *Service) finishWithError(w http.ResponseWriter, rlog *slog.Logger, selection registry.Selection, model string, started time.Time, kind domain.ErrorKind, err error) {
	duration := time.Since(started)
	rlog.Warn("upstream request failed", "kind", string(kind), "error", err)

	s.metrics.RecordError(selection.Endpoint, string(kind))
	s.metrics.RecordRequestEnd(selection.Endpoint, model, false, duration.Seconds())

	s.events.Publish(Event{
		Type:      EventTypeError,
		Timestamp: time.Now(),
		Err:       err,
		Endpoint:  selection.Endpoint,
		Model:     model,
		Duration:  duration,
	})

	s.writeErrorBody(w, http.StatusBadGateway, kind, "upstream request failed")
}

func (s *Service) writeError(w http.ResponseWriter, status int, endpoint string, kind domain.ErrorKind, message string) {
	s.metrics.RecordError(endpoint, string(kind))
	s.writeErrorBody(w, status, kind, message)
}

func (s *Service) writeErrorBody(w http.ResponseWriter, status int, kind domain.ErrorKind, message string) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message, Kind: string(kind)})
}

// copyRequestHeaders forwards client headers to the upstream, skipping
// hop-by-hop ones.
func copyRequestHeaders(dst *http.Request, src *http.Request) {
	for key, values := range src.Header {
		if isHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Header.Add(key, value)
		}
	}
	if dst.Header.Get(headerContentType) == "" {
		dst.Header.Set(headerContentType, contentTypeJSON)
	}
}

// copyResponseHeaders mirrors upstream response headers except
// Content-Length, which no longer holds once the body is re-framed.
func copyResponseHeaders(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		if strings.EqualFold(key, headerContentLength) {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
}

func isHopByHopHeader(key string) bool {
	switch http.CanonicalHeaderKey(key) {
	case "Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailer", "Transfer-Encoding", "Upgrade":
		return true
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
