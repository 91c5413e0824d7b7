// Package fallback implements the mitigation ladder that keeps requests
// flowing when accounts hit rate limits or the upstream runs out of
// capacity: pre-emptive model spoofing, in-account spoofing, dual-quota
// header swaps, cross-account rotation, and the one-shot session-repair
// retry for corrupted conversations.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aetherbridge/AetherBridge/internal/auth"
	"github.com/aetherbridge/AetherBridge/internal/constant"
	"github.com/aetherbridge/AetherBridge/internal/fingerprint"
	"github.com/aetherbridge/AetherBridge/internal/interfaces"
	"github.com/aetherbridge/AetherBridge/internal/models"
	"github.com/aetherbridge/AetherBridge/internal/translator"
	"github.com/aetherbridge/AetherBridge/internal/upstream"
	"github.com/aetherbridge/AetherBridge/internal/usage"
)

// maxLimitWait caps how long a request may wait out a rate limit before it
// is rejected with a 429.
const maxLimitWait = 600 * time.Second

// NotifyFunc receives human-readable mitigation announcements. During
// streaming the SSE mediator writes them into the status content block.
type NotifyFunc func(text string)

// Attempt is one inbound request as the orchestrator sees it.
type Attempt struct {
	// Request is the parsed dialect-neutral request.
	Request *translator.Request

	// RawBody is the original inbound JSON, kept so the session-repair
	// retry can re-run translation over the unmodified history.
	RawBody []byte

	// Dialect is constant.Claude or constant.OpenAI.
	Dialect string
}

// ClientFactory builds an upstream client for an account. Swapped out by
// tests.
type ClientFactory func(account *auth.Account) *upstream.Client

// Orchestrator drives the strategy ladder over the account pool.
type Orchestrator struct {
	pool         *auth.Pool
	usage        *usage.Store
	newClient    ClientFactory
	maxRotations int
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// New builds an orchestrator. The usage store may be nil.
func New(pool *auth.Pool, usageStore *usage.Store, factory ClientFactory) *Orchestrator {
	return &Orchestrator{
		pool:      pool,
		usage:     usageStore,
		newClient: factory,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// SetMaxRotations caps how many extra accounts one request may rotate
// through, below the pool size. Zero means every account may be tried.
func (o *Orchestrator) SetMaxRotations(n int) { o.maxRotations = n }

// SetClock replaces the time source. Test hook.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// SetSleep replaces the wait implementation. Test hook.
func (o *Orchestrator) SetSleep(fn func(ctx context.Context, d time.Duration) error) { o.sleep = fn }

// plan is the concrete shape of one upstream attempt.
type plan struct {
	account      *auth.Account
	model        models.Model
	thinking     *models.ThinkingConfig
	style        fingerprint.Style
	request      *translator.Request
	usedFallback bool
	preSpoofed   bool
	repaired     bool
	s1Done       bool
	s15Done      bool
	rotations    int
}

// Execute runs the unary pipeline: lease, attempt, and walk the strategy
// ladder until a response or a terminal error. The returned model is the one
// that actually answered, which differs from the request under spoofing.
func (o *Orchestrator) Execute(ctx context.Context, attempt *Attempt, notify NotifyFunc) (*interfaces.UnaryResult, models.Model, *interfaces.ErrorMessage) {
	current, errMsg := o.enter(ctx, attempt, notify)
	if errMsg != nil {
		return nil, models.ModelUnknown, errMsg
	}

	for {
		o.recordRequest(current)
		client := o.newClient(current.account).WithStyle(current.style)
		if errDiscover := client.EnsureProject(ctx); errDiscover != nil {
			var planErr *interfaces.ErrorMessage
			current, planErr = o.nextPlan(ctx, attempt, current, errDiscover, notify)
			if planErr != nil {
				return nil, models.ModelUnknown, planErr
			}
			continue
		}
		body := upstream.BuildRequestBody(client.ProjectID(), current.model, current.request, current.thinking)
		result, attemptErr := client.Generate(ctx, body)
		if attemptErr == nil {
			o.settle(attempt, current)
			return result, current.model, nil
		}
		current, errMsg = o.nextPlan(ctx, attempt, current, attemptErr, notify)
		if errMsg != nil {
			return nil, models.ModelUnknown, errMsg
		}
	}
}

// ExecuteStream runs the streaming pipeline. Mitigations happen before the
// first chunk is committed; once the upstream stream produces data, the
// chunks flow through the returned channel until the Done chunk.
func (o *Orchestrator) ExecuteStream(ctx context.Context, attempt *Attempt, notify NotifyFunc) (<-chan *interfaces.StreamChunk, models.Model, *interfaces.ErrorMessage) {
	current, errMsg := o.enter(ctx, attempt, notify)
	if errMsg != nil {
		return nil, models.ModelUnknown, errMsg
	}

	for {
		o.recordRequest(current)
		client := o.newClient(current.account).WithStyle(current.style)
		if errDiscover := client.EnsureProject(ctx); errDiscover != nil {
			current, errMsg = o.nextPlan(ctx, attempt, current, errDiscover, notify)
			if errMsg != nil {
				return nil, models.ModelUnknown, errMsg
			}
			continue
		}
		body := upstream.BuildRequestBody(client.ProjectID(), current.model, current.request, current.thinking)
		dataChan, errChan := client.Stream(ctx, body)

		select {
		case chunk, ok := <-dataChan:
			if ok {
				o.settle(attempt, current)
				out := make(chan *interfaces.StreamChunk, 16)
				go func() {
					defer close(out)
					out <- chunk
					for next := range dataChan {
						out <- next
					}
				}()
				return out, current.model, nil
			}
			// Channel closed without data: treat the error channel as
			// authoritative.
			attemptErr := <-errChan
			if attemptErr == nil {
				attemptErr = interfaces.NewErrorMessage(502, interfaces.KindServerError, errors.New("upstream stream ended without data"))
			}
			current, errMsg = o.nextPlan(ctx, attempt, current, attemptErr, notify)
		case attemptErr := <-errChan:
			if attemptErr == nil {
				attemptErr = interfaces.NewErrorMessage(502, interfaces.KindServerError, errors.New("upstream stream ended without data"))
			}
			current, errMsg = o.nextPlan(ctx, attempt, current, attemptErr, notify)
		case <-ctx.Done():
			return nil, models.ModelUnknown, interfaces.NewErrorMessage(499, interfaces.KindClientError, ctx.Err())
		}
		if errMsg != nil {
			return nil, models.ModelUnknown, errMsg
		}
	}
}

// enter acquires the first account, applying the wait cap and the S0
// pre-emptive spoof when every account is limited for the target family.
func (o *Orchestrator) enter(ctx context.Context, attempt *Attempt, notify NotifyFunc) (*plan, *interfaces.ErrorMessage) {
	request := attempt.Request
	family := request.Model.Family()

	send(notify, "Finding an available account...")
	account, err := o.pool.LeaseFor(ctx, request.Model)
	if err != nil {
		if errors.Is(err, auth.ErrReauthRequired) {
			return nil, interfaces.NewErrorMessage(401, interfaces.KindAuthRequired, err)
		}
		return nil, interfaces.NewErrorMessage(500, interfaces.KindServerError, err)
	}
	if account != nil {
		send(notify, fmt.Sprintf("Using account %s, generating...", account.Email))
		return &plan{account: account, model: request.Model, thinking: request.Thinking, request: request}, nil
	}

	wait, limited := o.pool.MinWaitFor(family)
	if !limited {
		return nil, interfaces.NewErrorMessage(401, interfaces.KindAuthRequired,
			errors.New("no authenticated accounts available; run with --login first"))
	}
	if wait > maxLimitWait {
		return nil, &interfaces.ErrorMessage{
			StatusCode: 429,
			Kind:       interfaces.KindRateLimited,
			RetryAfter: wait,
			Error:      fmt.Errorf("all accounts rate limited for %s; retry in %s", family, wait.Round(time.Second)),
		}
	}

	// S0: skip the wait entirely when a cross-family substitute exists.
	if spoof := models.SpoofFor(request.Model); spoof != models.ModelUnknown {
		account, err = o.pool.LeaseIgnoringLimits(ctx)
		if errors.Is(err, auth.ErrReauthRequired) {
			return nil, interfaces.NewErrorMessage(401, interfaces.KindAuthRequired, err)
		}
		if account != nil {
			send(notify, fmt.Sprintf("All accounts rate limited for %s. Switching to %s on account %s...",
				request.Model.DisplayName(), spoof.APIID(), account.Email))
			return &plan{
				account:      account,
				model:        spoof,
				thinking:     adaptThinking(request.Model, spoof, request.Thinking),
				request:      request,
				usedFallback: true,
				preSpoofed:   true,
			}, nil
		}
	}

	send(notify, fmt.Sprintf("Rate limited, waiting %ds...", int(wait.Seconds())+1))
	if errSleep := o.sleep(ctx, wait); errSleep != nil {
		return nil, interfaces.NewErrorMessage(499, interfaces.KindClientError, errSleep)
	}
	account, err = o.pool.LeaseFor(ctx, request.Model)
	if err != nil || account == nil {
		if errors.Is(err, auth.ErrReauthRequired) {
			return nil, interfaces.NewErrorMessage(401, interfaces.KindAuthRequired, err)
		}
		return nil, interfaces.NewErrorMessage(429, interfaces.KindRateLimited,
			errors.New("no account became available after waiting"))
	}
	send(notify, fmt.Sprintf("Using account %s, generating...", account.Email))
	return &plan{account: account, model: request.Model, thinking: request.Thinking, request: request}, nil
}

// nextPlan classifies an attempt failure and picks the next rung of the
// ladder, or surfaces a terminal error.
func (o *Orchestrator) nextPlan(ctx context.Context, attempt *Attempt, current *plan, attemptErr *interfaces.ErrorMessage, notify NotifyFunc) (*plan, *interfaces.ErrorMessage) {
	// Session-repair retry runs before any account or model change: same
	// account, same model, exactly once.
	if !current.repaired && attempt.Dialect == constant.Claude && translator.IsRecoverableSessionError(attemptErr.Message()) {
		repairedRequest, parseErr := translator.ParseClaudeRequest(attempt.RawBody, true)
		if parseErr == nil {
			log.Infof("session corruption detected, retrying once after repair: %s", attemptErr.Message())
			send(notify, "Conversation history needed repair, retrying...")
			next := *current
			next.repaired = true
			next.request = repairedRequest
			next.thinking = currentThinking(&next, repairedRequest)
			return &next, nil
		}
	}

	switch attemptErr.Kind {
	case interfaces.KindRateLimited, interfaces.KindCapacity:
		family := current.model.Family()
		until := o.now().Add(attemptErr.RetryAfter)
		o.pool.MarkLimited(current.account.Index, family, until)
		o.recordRateLimit(current)
		log.Infof("account %s limited for %s until %s (%s)",
			current.account.Email, family, until.Format(time.RFC3339), attemptErr.Kind)

		// S1: stay on the account, cross to the other family.
		if !current.s1Done {
			if spoof := models.SpoofFor(current.model); spoof != models.ModelUnknown && o.pool != nil {
				if !o.pool.IsLimited(current.account.Index, spoof.Family()) {
					send(notify, fmt.Sprintf("Rate limit hit on %s. Switching to %s on account %s...",
						current.model.DisplayName(), spoof.APIID(), current.account.Email))
					next := *current
					next.s1Done = true
					next.model = spoof
					next.thinking = adaptThinking(current.model, spoof, attempt.Request.Thinking)
					next.usedFallback = true
					return &next, nil
				}
			}
			current.s1Done = true
		}

		// S1.5: only for Gemini-family requests; the alternate client
		// identity bills against the second Gemini quota pool, so the retry
		// goes back to the primary model even when S1 spoofed away from it.
		if !current.s15Done && attempt.Request.Model.Family() == models.FamilyGemini &&
			current.style == fingerprint.StylePrimary {
			send(notify, "Switching quota pool and retrying...")
			next := *current
			next.s15Done = true
			next.style = fingerprint.StyleAlt
			next.model = attempt.Request.Model
			next.thinking = attempt.Request.Thinking
			next.usedFallback = true
			return &next, nil
		}

		// S2: rotate to another account. The model reverts to the primary
		// request unless the request entered pre-emptively spoofed.
		targetModel := attempt.Request.Model
		targetThinking := attempt.Request.Thinking
		if current.preSpoofed {
			targetModel = current.model
			targetThinking = current.thinking
		}
		rotationCap := o.pool.Len()
		if o.maxRotations > 0 && o.maxRotations < rotationCap {
			rotationCap = o.maxRotations
		}
		if current.rotations < rotationCap {
			account, err := o.pool.LeaseFor(ctx, targetModel)
			if errors.Is(err, auth.ErrReauthRequired) {
				return nil, interfaces.NewErrorMessage(401, interfaces.KindAuthRequired, err)
			}
			if account != nil && account.Index != current.account.Index {
				send(notify, fmt.Sprintf("Rotating to account %s...", account.Email))
				next := *current
				next.rotations++
				next.account = account
				next.model = targetModel
				next.thinking = targetThinking
				next.style = fingerprint.StylePrimary
				next.s1Done = false
				next.s15Done = false
				next.usedFallback = true
				return &next, nil
			}
		}
		return nil, attemptErr

	case interfaces.KindIAMDenied, interfaces.KindAuthRequired, interfaces.KindInvalidRequest, interfaces.KindClientError:
		return nil, attemptErr

	default:
		return nil, attemptErr
	}
}

// settle applies the post-success bookkeeping: the primary family entry is
// cleared only when the primary model itself succeeded. A fallback success
// leaves the mark so the next request re-enters fallback immediately.
func (o *Orchestrator) settle(attempt *Attempt, current *plan) {
	if current.usedFallback {
		return
	}
	o.pool.ClearLimit(current.account.Index, attempt.Request.Model.Family())
}

func (o *Orchestrator) recordRequest(current *plan) {
	if o.usage != nil {
		o.usage.RecordRequest(current.account.Email, current.model.Family().String())
	}
}

func (o *Orchestrator) recordRateLimit(current *plan) {
	if o.usage != nil {
		o.usage.RecordRateLimit(current.account.Email, current.model.Family().String())
	}
}

// adaptThinking rewrites the thinking configuration when a request crosses
// from one family to another.
func adaptThinking(from, to models.Model, tc *models.ThinkingConfig) *models.ThinkingConfig {
	if !to.SupportsThinking() {
		return nil
	}
	if from.IsClaude() && !to.IsClaude() {
		return models.AdaptThinkingForSpoof(to, tc)
	}
	return tc
}

// currentThinking preserves an already-adapted thinking config across the
// repair retry.
func currentThinking(current *plan, repaired *translator.Request) *models.ThinkingConfig {
	if current.model == repaired.Model {
		return repaired.Thinking
	}
	return current.thinking
}

func send(notify NotifyFunc, text string) {
	if notify != nil {
		notify(text)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
