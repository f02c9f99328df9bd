package narrative

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrEmptyMediaRef is returned when a media reference is blank.
var ErrEmptyMediaRef = errors.New("empty media reference")

// Fetcher resolves asset collections and media references. Calls may block
// and are made off the control goroutine.
type Fetcher interface {
	FetchAssetCollection(ctx context.Context, id string) (AssetCollection, error)
	FetchMedia(ctx context.Context, ref string) (string, error)
}

// Catalog is a Fetcher over the asset collections embedded in a story.
// Relative media references resolve against a base URL.
type Catalog struct {
	collections map[string]AssetCollection
	base        *url.URL
}

// NewCatalog builds a Catalog for story. baseURL may be empty, in which case
// references are returned unchanged.
func NewCatalog(story *Story, baseURL string) (*Catalog, error) {
	c := &Catalog{collections: make(map[string]AssetCollection, len(story.AssetCollections))}
	for _, ac := range story.AssetCollections {
		c.collections[ac.ID] = ac
	}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse media base url: %w", err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		c.base = u
	}
	return c, nil
}

// FetchAssetCollection implements Fetcher.FetchAssetCollection.
func (c *Catalog) FetchAssetCollection(ctx context.Context, id string) (AssetCollection, error) {
	if err := ctx.Err(); err != nil {
		return AssetCollection{}, err
	}
	ac, ok := c.collections[id]
	if !ok {
		return AssetCollection{}, fmt.Errorf("%w: %q", ErrUnknownAssetCollection, id)
	}
	return ac, nil
}

// FetchMedia implements Fetcher.FetchMedia.
func (c *Catalog) FetchMedia(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(ref) == "" {
		return "", ErrEmptyMediaRef
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse media ref %q: %w", ref, err)
	}
	if u.IsAbs() || c.base == nil {
		return u.String(), nil
	}
	return c.base.ResolveReference(u).String(), nil
}
