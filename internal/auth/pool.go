package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aetherbridge/AetherBridge/internal/models"
)

// staleBuffer is how close to expiry an access token may get before a lease
// forces a refresh.
const staleBuffer = 5 * time.Minute

// Account is one live pool member. Index is stable for the process lifetime;
// removing an account compacts the remaining indices.
type Account struct {
	Index        int
	Email        string
	AccessToken  string
	AccessExpiry time.Time
	RefreshToken string
}

// rateLimitEntry records one (account, family) limit.
type rateLimitEntry struct {
	until            time.Time
	consecutiveCount uint32
}

// RefreshFunc exchanges a refresh token for fresh credentials. Injected so
// tests can stub the provider.
type RefreshFunc func(ctx context.Context, refreshToken string) (*TokenPair, error)

// Pool owns the live accounts and the per-(account, family) rate-limit
// ledger. Every operation serializes on a single mutex; token refresh runs
// under the lock so concurrent leases cannot race to refresh the same
// expired token.
type Pool struct {
	mu            sync.Mutex
	store         *TokenStore
	accounts      []*Account
	rateLimits    map[int]map[models.Family]*rateLimitEntry
	lastUsedIndex int

	refresh RefreshFunc
	now     func() time.Time
}

// NewPool loads the stored accounts and builds a pool refreshing through the
// given HTTP client. The store may be nil for tests that seed accounts
// directly.
func NewPool(store *TokenStore, httpClient *http.Client) (*Pool, error) {
	pool := &Pool{
		store:         store,
		rateLimits:    make(map[int]map[models.Family]*rateLimitEntry),
		lastUsedIndex: -1,
		now:           time.Now,
		refresh: func(ctx context.Context, refreshToken string) (*TokenPair, error) {
			return RefreshAccessToken(ctx, httpClient, refreshToken)
		},
	}
	if store != nil {
		if err := pool.Reload(); err != nil {
			return nil, err
		}
		if active, err := store.ActiveIndex(); err == nil && active > 0 {
			pool.lastUsedIndex = active - 1
		}
	}
	return pool, nil
}

// SetRefreshFunc replaces the refresh implementation. Test hook.
func (p *Pool) SetRefreshFunc(fn RefreshFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refresh = fn
}

// SetClock replaces the time source. Test hook.
func (p *Pool) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Seed replaces the pool contents with the given accounts, bypassing the
// store. Indices are assigned in order.
func (p *Pool) Seed(accounts []*Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = accounts
	for i, account := range accounts {
		account.Index = i
	}
	p.rateLimits = make(map[int]map[models.Family]*rateLimitEntry)
	p.lastUsedIndex = -1
}

// Reload re-reads accounts.json, preserving access tokens for emails that
// survive the reload. Rate-limit entries are keyed by index, so they are
// rebuilt by email match.
func (p *Pool) Reload() error {
	stored, err := p.store.LoadAll()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	previous := make(map[string]*Account, len(p.accounts))
	previousLimits := make(map[string]map[models.Family]*rateLimitEntry, len(p.accounts))
	for _, account := range p.accounts {
		previous[account.Email] = account
		if limits, ok := p.rateLimits[account.Index]; ok {
			previousLimits[account.Email] = limits
		}
	}

	accounts := make([]*Account, 0, len(stored))
	limits := make(map[int]map[models.Family]*rateLimitEntry)
	for i, entry := range stored {
		account := &Account{
			Index:        i,
			Email:        entry.Email,
			RefreshToken: entry.RefreshToken,
		}
		if old, ok := previous[entry.Email]; ok {
			account.AccessToken = old.AccessToken
			account.AccessExpiry = old.AccessExpiry
		}
		if oldLimits, ok := previousLimits[entry.Email]; ok {
			limits[i] = oldLimits
		}
		accounts = append(accounts, account)
	}
	p.accounts = accounts
	p.rateLimits = limits
	if p.lastUsedIndex >= len(accounts) {
		p.lastUsedIndex = -1
	}
	return nil
}

// Len returns the pool size.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// Emails lists the pool members in index order.
func (p *Pool) Emails() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	emails := make([]string, len(p.accounts))
	for i, account := range p.accounts {
		emails[i] = account.Email
	}
	return emails
}

// available reports whether the account may serve the family right now.
// Caller holds the lock.
func (p *Pool) available(index int, family models.Family) bool {
	limits, ok := p.rateLimits[index]
	if !ok {
		return true
	}
	entry, ok := limits[family]
	if !ok {
		return true
	}
	return !p.now().Before(entry.until)
}

// ensureFresh refreshes the account's access token in place when it is
// within the staleness buffer of expiry. Caller holds the lock.
func (p *Pool) ensureFresh(ctx context.Context, account *Account) error {
	if account.AccessToken != "" && p.now().Add(staleBuffer).Before(account.AccessExpiry) {
		return nil
	}
	pair, err := p.refresh(ctx, account.RefreshToken)
	if err != nil {
		return err
	}
	account.AccessToken = pair.AccessToken
	account.AccessExpiry = pair.AccessExpiry
	if pair.RefreshToken != "" && pair.RefreshToken != account.RefreshToken {
		account.RefreshToken = pair.RefreshToken
		if p.store != nil {
			if errPersist := p.store.UpdateRefreshToken(account.Email, pair.RefreshToken); errPersist != nil {
				log.Warnf("failed to persist rotated refresh token for %s: %v", account.Email, errPersist)
			}
		}
	}
	return nil
}

// LeaseFor selects the next account usable for the model's family under
// round-robin order, refreshing its access token when stale. It returns nil
// when every account is limited or failed to refresh; ErrReauthRequired
// propagates when a refresh token was revoked.
func (p *Pool) LeaseFor(ctx context.Context, model models.Model) (*Account, error) {
	return p.lease(ctx, model.Family(), true)
}

// LeaseIgnoringLimits selects the next account without consulting the
// rate-limit ledger. Used for pre-emptive spoofing.
func (p *Pool) LeaseIgnoringLimits(ctx context.Context) (*Account, error) {
	return p.lease(ctx, models.FamilyGemini, false)
}

func (p *Pool) lease(ctx context.Context, family models.Family, checkLimits bool) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.accounts)
	if n == 0 {
		return nil, nil
	}
	var lastErr error
	for offset := 1; offset <= n; offset++ {
		index := (p.lastUsedIndex + offset) % n
		account := p.accounts[index]
		if checkLimits && !p.available(index, family) {
			continue
		}
		if err := p.ensureFresh(ctx, account); err != nil {
			if err == ErrReauthRequired {
				return nil, fmt.Errorf("account %s: %w", account.Email, err)
			}
			log.Warnf("token refresh for %s failed, skipping: %v", account.Email, err)
			lastErr = err
			continue
		}
		p.lastUsedIndex = index
		leased := *account
		return &leased, nil
	}
	return nil, lastErr
}

// MarkLimited sets or overwrites the (account, family) rate-limit entry and
// bumps its consecutive count. Callers apply the capacity floor before
// passing until.
func (p *Pool) MarkLimited(index int, family models.Family, until time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	limits, ok := p.rateLimits[index]
	if !ok {
		limits = make(map[models.Family]*rateLimitEntry)
		p.rateLimits[index] = limits
	}
	entry, ok := limits[family]
	if !ok {
		entry = &rateLimitEntry{}
		limits[family] = entry
	}
	entry.until = until
	entry.consecutiveCount++
}

// ClearLimit removes the family's entry for the account. Callers must only
// clear when the primary model succeeded; a fallback success leaves the
// entry in place so the next request re-enters fallback immediately.
func (p *Pool) ClearLimit(index int, family models.Family) {
	p.mu.Lock()
	defer p.mu.Unlock()
	limits, ok := p.rateLimits[index]
	if !ok {
		return
	}
	delete(limits, family)
	if len(limits) == 0 {
		delete(p.rateLimits, index)
	}
}

// IsLimited reports whether the (account, family) pair currently has an
// active rate-limit entry.
func (p *Pool) IsLimited(index int, family models.Family) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.available(index, family)
}

// MinWaitFor returns the shortest wait until some account can serve the
// family. The second return is false when an account is already free.
func (p *Pool) MinWaitFor(family models.Family) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.accounts) == 0 {
		return 0, false
	}
	now := p.now()
	minWait := time.Duration(-1)
	for _, account := range p.accounts {
		limits, ok := p.rateLimits[account.Index]
		if !ok {
			return 0, false
		}
		entry, ok := limits[family]
		if !ok || !now.Before(entry.until) {
			return 0, false
		}
		wait := entry.until.Sub(now)
		if minWait < 0 || wait < minWait {
			minWait = wait
		}
	}
	return minWait, true
}
