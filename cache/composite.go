package cache

import (
	"context"
)

type compositeProvider struct {
	providers []Provider
}

var _ Provider = (*compositeProvider)(nil)

// NewComposite returns a Provider that chains multiple providers together.
// Get checks providers in order and returns the first hit.
// Store, Remove and Clear write to all providers.
// At least one provider must be given; panics if empty.
//
// Pair it with TypeCustom to put an in-process tier in front of a shared
// backend.
func NewComposite(providers ...Provider) Provider {
	if len(providers) == 0 {
		panic("cache: NewComposite requires at least one provider")
	}
	return &compositeProvider{providers: providers}
}

func (c *compositeProvider) Connect(ctx context.Context) error {
	var firstErr error
	for _, provider := range c.providers {
		if err := provider.Connect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *compositeProvider) Get(ctx context.Context, identifier string) (*Entry, bool, error) {
	for _, provider := range c.providers {
		entry, found, err := provider.Get(ctx, identifier)
		if err != nil {
			return nil, false, err
		}
		if found {
			return entry, true, nil
		}
	}
	return nil, false, nil
}

func (c *compositeProvider) Store(ctx context.Context, entry Entry) error {
	var firstErr error
	for _, provider := range c.providers {
		if err := provider.Store(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *compositeProvider) Remove(ctx context.Context, identifiers ...string) error {
	var firstErr error
	for _, provider := range c.providers {
		if err := provider.Remove(ctx, identifiers...); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *compositeProvider) Clear(ctx context.Context) error {
	var firstErr error
	for _, provider := range c.providers {
		if err := provider.Clear(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *compositeProvider) Close(ctx context.Context) error {
	var firstErr error
	for _, provider := range c.providers {
		if err := provider.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
