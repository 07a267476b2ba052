//go:build !linux

package keepalive

import "context"

type mediaPublisher struct{}

func publishMedia(context.Context, Metadata, mediaActions) (*mediaPublisher, error) {
	return nil, ErrUnsupported
}

func (p *mediaPublisher) close() error { return nil }
