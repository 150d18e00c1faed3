// Package proxy implements the per-request orchestrator: translate, pick an
// account, call upstream, classify failures, rotate accounts, advance the
// model fallback chain, and translate the response back.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/antigravity-router/antigravity-proxy/internal/cache"
	"github.com/antigravity-router/antigravity-proxy/internal/ir"
	"github.com/antigravity-router/antigravity-proxy/internal/pool"
	"github.com/antigravity-router/antigravity-proxy/internal/registry"
	"github.com/antigravity-router/antigravity-proxy/internal/translator"
	"github.com/antigravity-router/antigravity-proxy/internal/upstream"
)

// quotaCooldown is the minimum cooldown for a quota-exhausted (account,
// model) pair.
const quotaCooldown = time.Hour

// UpstreamClient is the slice of the upstream client the orchestrator needs.
// Satisfied by *upstream.Client; tests substitute stubs.
type UpstreamClient interface {
	Generate(ctx context.Context, envelope []byte, token string) (string, error)
	StreamGenerate(ctx context.Context, envelope []byte, token string) (<-chan string, <-chan error)
}

// Orchestrator drives one request end to end.
type Orchestrator struct {
	client     UpstreamClient
	pool       *pool.Pool
	registry   *registry.Registry
	signatures *cache.SignatureCache

	switchPreviewModel bool
	defaultProjectID   string
	projectWarnOnce    sync.Once
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(client UpstreamClient, accountPool *pool.Pool, reg *registry.Registry,
	signatures *cache.SignatureCache, switchPreviewModel bool, defaultProjectID string) *Orchestrator {
	return &Orchestrator{
		client:             client,
		pool:               accountPool,
		registry:           reg,
		signatures:         signatures,
		switchPreviewModel: switchPreviewModel,
		defaultProjectID:   defaultProjectID,
	}
}

// attemptModels returns the model fallback chain for a request.
func (o *Orchestrator) attemptModels(canonical string) []string {
	models := []string{canonical}
	if o.switchPreviewModel {
		models = append(models, o.registry.Fallbacks(canonical)...)
	}
	return models
}

// projectID picks the account's project id, falling back to the configured
// default. The fallback is unexpected in healthy deployments and is warned
// about once.
func (o *Orchestrator) projectID(creds *pool.Credentials) string {
	if creds.ProjectID != "" {
		return creds.ProjectID
	}
	o.projectWarnOnce.Do(func() {
		log.Warnf("account %s has no project id, using configured default %q", creds.Email, o.defaultProjectID)
	})
	return o.defaultProjectID
}

// failureKind classifies an upstream failure.
type failureKind int

const (
	failureFatal failureKind = iota
	failureAuth
	failureRateLimit
	failureQuota
	failureBadSignature
)

// classify inspects an upstream error per the error taxonomy.
func classify(err error) (failureKind, string) {
	var statusErr *upstream.StatusError
	if !errors.As(err, &statusErr) {
		return failureFatal, ""
	}
	body := statusErr.Body
	lower := strings.ToLower(body)

	switch {
	case statusErr.StatusCode == 429 || strings.Contains(body, "RESOURCE_EXHAUSTED") || strings.Contains(body, "429"):
		if strings.Contains(lower, "quota") {
			return failureQuota, body
		}
		return failureRateLimit, body
	case statusErr.StatusCode == 401:
		return failureAuth, body
	case statusErr.StatusCode == 400 && strings.Contains(lower, "signature"):
		return failureBadSignature, body
	default:
		return failureFatal, body
	}
}

// stripThinking removes thinking parts and signatures from the conversation.
// Used for the single retry after the upstream rejects a thought signature.
func stripThinking(internal *ir.Request) {
	var contents []ir.Content
	for _, content := range internal.Contents {
		var parts []ir.Part
		for _, part := range content.Parts {
			if part.Kind == ir.PartThinking {
				continue
			}
			part.Signature = ""
			parts = append(parts, part)
		}
		if len(parts) > 0 {
			contents = append(contents, ir.Content{Role: content.Role, Parts: parts})
		}
	}
	internal.Contents = contents
	internal.GenerationConfig.Thinking = nil
}

// buildEnvelope marshals the internal request for one model attempt.
func (o *Orchestrator) buildEnvelope(req *translator.Request, attemptModel, projectID string) ([]byte, error) {
	body, err := req.Internal.MarshalGemini()
	if err != nil {
		return nil, fmt.Errorf("marshal internal request: %w", err)
	}
	family := o.registry.Family(attemptModel)
	envelope := upstream.BuildEnvelope(o.registry.BaseModelID(attemptModel), family, body)
	return upstream.SetProject(envelope, projectID), nil
}

// Execute runs a batch request and returns the dialect response body.
//
// Parameters:
//   - ctx: The request context
//   - tr: The dialect translator
//   - req: The parsed request
//
// Returns:
//   - []byte: The dialect response body
//   - error: The terminal failure after retries are exhausted
func (o *Orchestrator) Execute(ctx context.Context, tr translator.Translator, req *translator.Request) ([]byte, error) {
	var lastErr error
	strippedThinking := false

	for _, attemptModel := range o.attemptModels(req.CanonicalModel) {
		family := o.registry.Family(attemptModel)
		budget := 2 * o.pool.Count()
		if budget < 1 {
			budget = 1
		}

	accountLoop:
		for attempt := 0; attempt < budget; attempt++ {
			creds, err := o.pool.GetValidAccessToken(ctx, family, attemptModel)
			if err != nil {
				lastErr = err
				break accountLoop
			}

			envelope, err := o.buildEnvelope(req, attemptModel, o.projectID(creds))
			if err != nil {
				return nil, err
			}

			resp, err := o.client.Generate(ctx, envelope, creds.Token)
			if err == nil {
				o.pool.MarkSuccess(creds.AccountID, attemptModel)
				parts := ir.ResponseParts(resp)
				ir.CacheResponseSignatures(parts, req.Internal.SessionID, o.signatures)
				req.ServedModel = attemptModel
				return tr.FromInternal(resp, req)
			}
			lastErr = err

			kind, body := classify(err)
			switch kind {
			case failureQuota:
				retryMs, _ := pool.ParseRetryHint(body)
				if retryMs < quotaCooldown.Milliseconds() {
					retryMs = quotaCooldown.Milliseconds()
				}
				o.pool.MarkRateLimited(creds.AccountID, attemptModel, retryMs)
				log.Warnf("quota exhausted for %s on %s, advancing fallback chain", creds.Email, attemptModel)
				break accountLoop
			case failureRateLimit:
				retryMs, _ := pool.ParseRetryHint(body)
				o.pool.MarkRateLimited(creds.AccountID, attemptModel, retryMs)
				log.Debugf("rate limited on %s for %s, rotating account", attemptModel, creds.Email)
				continue
			case failureAuth:
				o.pool.MarkDisabled(creds.AccountID, "upstream rejected token")
				continue
			case failureBadSignature:
				if strippedThinking {
					return nil, err
				}
				strippedThinking = true
				log.Warnf("upstream rejected a thought signature, retrying without thinking")
				stripThinking(req.Internal)
				attempt--
				continue
			default:
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// FrameWriter receives complete SSE frames in order. A write error aborts
// the stream.
type FrameWriter func(frame []byte) error

// ErrStreamStarted wraps upstream failures that happened after the first
// frame reached the client; they can no longer be retried.
type ErrStreamStarted struct {
	Underlying error
}

func (e *ErrStreamStarted) Error() string {
	return "stream interrupted: " + e.Underlying.Error()
}

func (e *ErrStreamStarted) Unwrap() error { return e.Underlying }

// ExecuteStream runs a streaming request, writing dialect SSE frames as they
// are produced. Account rotation stops once the first frame is written.
//
// Parameters:
//   - ctx: The request context
//   - tr: The dialect translator
//   - req: The parsed request
//   - write: The frame sink
//
// Returns:
//   - error: nil on a completed stream; *ErrStreamStarted if the upstream
//     failed mid-stream; otherwise the terminal connect failure
func (o *Orchestrator) ExecuteStream(ctx context.Context, tr translator.Translator, req *translator.Request, write FrameWriter) error {
	var lastErr error
	strippedThinking := false

	for _, attemptModel := range o.attemptModels(req.CanonicalModel) {
		family := o.registry.Family(attemptModel)
		budget := 2 * o.pool.Count()
		if budget < 1 {
			budget = 1
		}

	accountLoop:
		for attempt := 0; attempt < budget; attempt++ {
			creds, err := o.pool.GetValidAccessToken(ctx, family, attemptModel)
			if err != nil {
				lastErr = err
				break accountLoop
			}

			envelope, err := o.buildEnvelope(req, attemptModel, o.projectID(creds))
			if err != nil {
				return err
			}

			req.ServedModel = attemptModel
			state := tr.NewStreamState(req)
			dataChan, errChan := o.client.StreamGenerate(ctx, envelope, creds.Token)

			wrote := false
			for chunk := range dataChan {
				ir.CacheResponseSignatures(ir.ResponseParts(chunk), req.Internal.SessionID, o.signatures)
				for _, frame := range tr.FromInternalStream(state, chunk) {
					if errWrite := write(frame); errWrite != nil {
						return errWrite
					}
					wrote = true
				}
			}

			var streamErr error
			select {
			case streamErr = <-errChan:
			default:
			}

			if streamErr == nil {
				o.pool.MarkSuccess(creds.AccountID, attemptModel)
				for _, frame := range tr.FinishStream(state) {
					if errWrite := write(frame); errWrite != nil {
						return errWrite
					}
				}
				return nil
			}
			lastErr = streamErr

			if wrote {
				return &ErrStreamStarted{Underlying: streamErr}
			}

			kind, body := classify(streamErr)
			switch kind {
			case failureQuota:
				retryMs, _ := pool.ParseRetryHint(body)
				if retryMs < quotaCooldown.Milliseconds() {
					retryMs = quotaCooldown.Milliseconds()
				}
				o.pool.MarkRateLimited(creds.AccountID, attemptModel, retryMs)
				log.Warnf("quota exhausted for %s on %s, advancing fallback chain", creds.Email, attemptModel)
				break accountLoop
			case failureRateLimit:
				retryMs, _ := pool.ParseRetryHint(body)
				o.pool.MarkRateLimited(creds.AccountID, attemptModel, retryMs)
				continue
			case failureAuth:
				o.pool.MarkDisabled(creds.AccountID, "upstream rejected token")
				continue
			case failureBadSignature:
				if strippedThinking {
					return streamErr
				}
				strippedThinking = true
				log.Warnf("upstream rejected a thought signature, retrying without thinking")
				stripThinking(req.Internal)
				attempt--
				continue
			default:
				return streamErr
			}
		}
	}
	return lastErr
}
