// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio bytes and to verify the requests
// (voice, text, prosody context) passed to the backend.
package mock

import (
	"context"
	"sync"

	"github.com/tbleier/fabelwerk/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider. The zero value returns
// a small constant byte payload for every request.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeResult is returned by Synthesize when SynthesizeFunc is nil.
	// Defaults to []byte("audio") when empty.
	SynthesizeResult []byte

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// SynthesizeFunc, if non-nil, overrides the canned behaviour entirely.
	SynthesizeFunc func(ctx context.Context, req tts.Request) ([]byte, error)

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// --- Recorded calls ---

	// SynthesizeCalls records every request passed to Synthesize, in order.
	SynthesizeCalls []tts.Request
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, req)
	fn := p.SynthesizeFunc
	result, errOut := p.SynthesizeResult, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if errOut != nil {
		return nil, errOut
	}
	if len(result) == 0 {
		result = []byte("audio")
	}
	return result, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	return p.ListVoicesResult, nil
}

// Calls returns a copy of the recorded Synthesize requests.
func (p *Provider) Calls() []tts.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tts.Request, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}
