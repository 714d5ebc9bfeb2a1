// Package executor runs completion calls against the Codex responses endpoint. One
// logical call walks an ordered model fallback chain with bounded retries per model
// and decodes the streamed event response into a single text result.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/router-for-me/codexgate/internal/auth/codex"
	"github.com/router-for-me/codexgate/internal/config"
	"github.com/router-for-me/codexgate/internal/logging"
	"github.com/router-for-me/codexgate/internal/util"
	log "github.com/sirupsen/logrus"
)

const (
	codexClientVersion = "0.98.0"
	codexUserAgent     = "codex_cli_rs/0.98.0 (Mac OS 26.0.1; arm64) Apple_Terminal/464"
	codexBetaHeader    = "responses=experimental"

	// maxErrorBody caps how much of a failed response is kept in the error.
	maxErrorBody = 4 << 10
)

// CredentialSource hands out a credential that is valid for immediate use.
type CredentialSource interface {
	GetValidCredential(ctx context.Context) (*codex.Credential, error)
}

// CodexExecutor executes completions with the deployment's Codex credential.
// It is safe for concurrent use; calls share nothing but the HTTP client.
type CodexExecutor struct {
	credentials CredentialSource
	httpClient  *http.Client
	requestLog  bool

	mu      sync.RWMutex
	gateway config.GatewayConfig
}

// NewCodexExecutor builds an executor from cfg. The HTTP client carries no timeout of
// its own; every attempt is bounded by gateway.request-timeout instead.
func NewCodexExecutor(cfg *config.Config, credentials CredentialSource) *CodexExecutor {
	e := &CodexExecutor{
		credentials: credentials,
		httpClient:  util.NewHTTPClient(&cfg.SDKConfig, 0),
		requestLog:  cfg.RequestLog,
	}
	e.UpdateGateway(cfg.Gateway)
	return e
}

// Identifier names the upstream provider.
func (e *CodexExecutor) Identifier() string { return "codex" }

// UpdateGateway swaps the gateway settings used by subsequent calls.
func (e *CodexExecutor) UpdateGateway(gateway config.GatewayConfig) {
	gateway.FallbackModels = append([]string(nil), gateway.FallbackModels...)
	gateway.ApplyDefaults()
	e.mu.Lock()
	e.gateway = gateway
	e.mu.Unlock()
}

// Gateway returns a copy of the active gateway settings.
func (e *CodexExecutor) Gateway() config.GatewayConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	gateway := e.gateway
	gateway.FallbackModels = append([]string(nil), e.gateway.FallbackModels...)
	return gateway
}

// Complete runs req across the fallback chain and returns the decoded output text.
// codex.ErrNotConnected is returned untouched when no credential exists.
func (e *CodexExecutor) Complete(ctx context.Context, req Request) (string, error) {
	gateway := e.Gateway()
	chain := BuildFallbackChain(req.Model, gateway.FallbackModels)
	if len(chain) == 0 {
		return "", StatusError{Code: http.StatusBadRequest, Msg: "no model requested"}
	}
	instructions, input := transformMessages(req.Messages, gateway.Instructions, req.JSON)
	entry := logging.WithContext(ctx)

	var lastErr error
candidates:
	for _, model := range chain {
		body, err := buildCodexRequest(model, instructions, input)
		if err != nil {
			return "", fmt.Errorf("codex executor: build request: %w", err)
		}
		e.logPromptTokens(entry, model, body)

		for attempt := 1; attempt <= gateway.MaxAttempts; attempt++ {
			cred, err := e.credentials.GetValidCredential(ctx)
			if err != nil {
				return "", err
			}
			text, err := e.attempt(ctx, gateway, cred, body)
			if err == nil {
				if attempt > 1 || model != chain[0] {
					entry.WithFields(log.Fields{"model": model, "attempt": attempt}).Info("completion succeeded after fallback")
				}
				return text, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			lastErr = err
			status := statusOf(err)
			decision := Decide(status, attempt, gateway.MaxAttempts)
			entry.WithFields(log.Fields{
				"model":   model,
				"attempt": attempt,
				"status":  status,
				"error":   err,
			}).Warnf("completion attempt failed, %s", decision)
			switch decision {
			case RetrySame:
				continue
			case NextCandidate:
				continue candidates
			default:
				return "", err
			}
		}
	}
	return "", fmt.Errorf("%w: %w", ErrFallbackExhausted, lastErr)
}

// attempt performs one HTTP call bounded by the per-attempt timeout and decodes the
// streamed response while the deadline still applies.
func (e *CodexExecutor) attempt(ctx context.Context, gateway config.GatewayConfig, cred *codex.Credential, body []byte) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, gateway.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, gateway.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("codex executor: create request: %w", err)
	}
	applyCodexHeaders(httpReq, cred)
	if e.requestLog {
		logging.WithContext(ctx).Debugf("codex executor: POST %s authorization=%s session=%s",
			gateway.Endpoint, util.MaskAuthorizationHeader(httpReq.Header.Get("Authorization")), httpReq.Header.Get("Session_id"))
	}

	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer func() {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("codex executor: close response body error: %v", errClose)
		}
	}()

	reader, err := decodedBody(httpResp)
	if err != nil {
		return "", err
	}
	defer func() {
		if errClose := reader.Close(); errClose != nil {
			log.Debugf("codex executor: close decoded body: %v", errClose)
		}
	}()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(reader, maxErrorBody))
		logging.WithContext(ctx).Debugf("request error, error status: %d, error message: %s", httpResp.StatusCode, strings.TrimSpace(string(b)))
		return "", StatusError{Code: httpResp.StatusCode, Msg: string(b)}
	}
	text, err := decodeEventStream(ctx, reader)
	if err != nil {
		return "", fmt.Errorf("codex executor: read stream: %w", err)
	}
	return text, nil
}

func applyCodexHeaders(r *http.Request, cred *codex.Credential) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer "+cred.Access)
	r.Header.Set("Accept", "text/event-stream")
	r.Header.Set("Accept-Encoding", acceptedEncodings)
	r.Header.Set("Connection", "Keep-Alive")
	r.Header.Set("Version", codexClientVersion)
	r.Header.Set("Openai-Beta", codexBetaHeader)
	r.Header.Set("Session_id", uuid.NewString())
	r.Header.Set("User-Agent", codexUserAgent)
	r.Header.Set("Originator", codex.Originator)
	if accountID := strings.TrimSpace(cred.AccountID); accountID != "" {
		r.Header.Set("Chatgpt-Account-Id", accountID)
	}
}

func (e *CodexExecutor) logPromptTokens(entry *log.Entry, model string, body []byte) {
	if !log.IsLevelEnabled(log.DebugLevel) {
		return
	}
	enc, err := tokenizerForModel(model)
	if err != nil {
		entry.Debugf("codex executor: tokenizer init failed: %v", err)
		return
	}
	count, err := countInputTokens(enc, body)
	if err != nil {
		entry.Debugf("codex executor: token counting failed: %v", err)
		return
	}
	entry.WithFields(log.Fields{"model": model, "tokens": count}).Debug("prompt token estimate")
}

// IsNotConnected reports whether err means no credential is stored.
func IsNotConnected(err error) bool {
	return errors.Is(err, codex.ErrNotConnected)
}
