// Package handlers implements the request flow shared by all dialect
// endpoints: body parsing, batch and streaming dispatch through the
// orchestrator, and dialect-native error rendering.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/antigravity-router/antigravity-proxy/internal/cache"
	"github.com/antigravity-router/antigravity-proxy/internal/pool"
	"github.com/antigravity-router/antigravity-proxy/internal/proxy"
	"github.com/antigravity-router/antigravity-proxy/internal/registry"
	"github.com/antigravity-router/antigravity-proxy/internal/translator"
	"github.com/antigravity-router/antigravity-proxy/internal/upstream"
)

// Deps carries what every dialect handler needs.
type Deps struct {
	Orchestrator *proxy.Orchestrator
	Registry     *registry.Registry
	Signatures   *cache.SignatureCache
}

// TranslatorDeps converts handler deps into translator deps.
func (d Deps) TranslatorDeps() translator.Deps {
	return translator.Deps{Registry: d.Registry, Signatures: d.Signatures}
}

// ErrorRenderer writes failures in one dialect's native envelope.
type ErrorRenderer interface {
	// WriteError renders a JSON error response with the given status.
	WriteError(c *gin.Context, status int, message string)

	// ErrorFrame renders a mid-stream error as an SSE frame, or nil when
	// the dialect closes the stream silently.
	ErrorFrame(message string) []byte
}

// StatusFromError maps an orchestrator failure to an HTTP status.
func StatusFromError(err error) int {
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	switch {
	case errors.Is(err, pool.ErrAllCoolingDown):
		return http.StatusTooManyRequests
	case errors.Is(err, pool.ErrNoAccounts):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Handle runs one dialect request end to end.
//
// Parameters:
//   - c: The gin context
//   - orchestrator: The request driver
//   - tr: The dialect translator
//   - renderer: The dialect error renderer
func Handle(c *gin.Context, orchestrator *proxy.Orchestrator, tr translator.Translator, renderer ErrorRenderer) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		renderer.WriteError(c, http.StatusBadRequest, "failed to read request body")
		return
	}

	req, err := tr.ToInternal(body)
	if err != nil {
		renderer.WriteError(c, http.StatusBadRequest, err.Error())
		return
	}

	if req.Stream {
		handleStream(c, orchestrator, tr, req, renderer)
		return
	}

	out, err := orchestrator.Execute(c.Request.Context(), tr, req)
	if err != nil {
		log.Errorf("%s request failed: %v", tr.Dialect(), err)
		renderer.WriteError(c, StatusFromError(err), err.Error())
		return
	}
	c.Data(http.StatusOK, "application/json", out)
}

func handleStream(c *gin.Context, orchestrator *proxy.Orchestrator, tr translator.Translator, req *translator.Request, renderer ErrorRenderer) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, _ := c.Writer.(http.Flusher)
	wrote := false
	write := func(frame []byte) error {
		if _, errWrite := c.Writer.Write(frame); errWrite != nil {
			return errWrite
		}
		wrote = true
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	err := orchestrator.ExecuteStream(c.Request.Context(), tr, req, write)
	if err == nil {
		return
	}
	log.Errorf("%s stream failed: %v", tr.Dialect(), err)

	if !wrote {
		renderer.WriteError(c, StatusFromError(err), err.Error())
		return
	}
	// the stream already started; emit a dialect error frame if there is one
	if frame := renderer.ErrorFrame(err.Error()); frame != nil {
		_, _ = c.Writer.Write(frame)
		if flusher != nil {
			flusher.Flush()
		}
	}
}
