package codex

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// memStore keeps the serialized record like a file would.
type memStore struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	saveErr error
}

func (s *memStore) Load(_ context.Context) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, nil
	}
	return ParseCredential(s.data)
}

func (s *memStore) Save(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	s.data = data
	s.saves++
	return nil
}

func (s *memStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}

func (s *memStore) snapshot() ([]byte, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...), s.saves
}

// fakeAuthorizer records exchanges instead of calling the issuer.
type fakeAuthorizer struct {
	mu        sync.Mutex
	exchanges int
	refreshes int
	codes     []string
	tokens    *TokenData
	err       error
	// entered, when set, receives a value once an exchange or refresh starts.
	entered chan struct{}
	// release, when set, blocks the exchange or refresh until closed.
	release chan struct{}
}

func (f *fakeAuthorizer) GenerateAuthURL(state string, pkceCodes *PKCECodes) (string, error) {
	return "https://issuer.test/oauth/authorize?state=" + state + "&code_challenge=" + pkceCodes.CodeChallenge, nil
}

func (f *fakeAuthorizer) ExchangeCodeForTokens(ctx context.Context, code string, _ *PKCECodes) (*TokenData, error) {
	f.mu.Lock()
	f.exchanges++
	f.codes = append(f.codes, code)
	f.mu.Unlock()
	return f.respond(ctx)
}

func (f *fakeAuthorizer) RefreshTokens(ctx context.Context, _ string) (*TokenData, error) {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
	return f.respond(ctx)
}

func (f *fakeAuthorizer) respond(ctx context.Context) (*TokenData, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	tokens := *f.tokens
	return &tokens, nil
}

func (f *fakeAuthorizer) counts() (exchanges, refreshes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges, f.refreshes
}

// fakeTimer never fires on its own; tests call fire.
type fakeTimer struct {
	stopped atomic.Bool
	f       func()
}

func (t *fakeTimer) Stop() bool {
	return !t.stopped.Swap(true)
}

func (t *fakeTimer) fire() {
	t.f()
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(_ time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) active() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped.Load() {
			out = append(out, t)
		}
	}
	return out
}
