// Package mock provides a test double for the image.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/tbleier/fabelwerk/pkg/provider/image"
)

// Provider is a mock implementation of image.Provider.
type Provider struct {
	mu sync.Mutex

	// GenerateResult is returned by GenerateCover. Defaults to []byte("png").
	GenerateResult []byte

	// GenerateErr, if non-nil, is returned by GenerateCover.
	GenerateErr error

	// Block, if non-nil, is received from before returning, so tests can
	// control when cover generation "finishes" relative to synthesis.
	Block <-chan struct{}

	// GenerateCalls records every request passed to GenerateCover.
	GenerateCalls []image.CoverRequest
}

var _ image.Provider = (*Provider)(nil)

// GenerateCover implements image.Provider.
func (p *Provider) GenerateCover(ctx context.Context, req image.CoverRequest) ([]byte, error) {
	p.mu.Lock()
	p.GenerateCalls = append(p.GenerateCalls, req)
	block := p.Block
	result, errOut := p.GenerateResult, p.GenerateErr
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if errOut != nil {
		return nil, errOut
	}
	if len(result) == 0 {
		result = []byte("png")
	}
	return result, nil
}
