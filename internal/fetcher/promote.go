package fetcher

import (
	"context"

	"go.uber.org/zap"
)

// Detector decides whether a plain response needs a rendered refetch.
type Detector interface {
	ShouldPromote(resp Response) bool
}

// Promoting fetches with a plain fetcher and refetches through a rendering
// fetcher when the detector flags the page as script-built.
type Promoting struct {
	plain    Fetcher
	rendered Fetcher
	detector Detector
	logger   *zap.Logger
}

// NewPromoting builds a Promoting fetcher. A nil rendered fetcher or detector
// disables promotion.
func NewPromoting(plain, rendered Fetcher, detector Detector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{plain: plain, rendered: rendered, detector: detector, logger: logger}
}

// Fetch implements Fetcher. A failed rendered fetch falls back to the plain response.
func (p *Promoting) Fetch(ctx context.Context, url string) (Response, error) {
	resp, err := p.plain.Fetch(ctx, url)
	if err != nil {
		return Response{}, err
	}
	if p.rendered == nil || p.detector == nil || !p.detector.ShouldPromote(resp) {
		return resp, nil
	}
	rendered, err := p.rendered.Fetch(ctx, url)
	if err != nil {
		p.logger.Warn("rendered fetch failed; using plain response", zap.String("url", url), zap.Error(err))
		return resp, nil
	}
	return rendered, nil
}
