package hub

import (
	"context"
)

// AssetUpload is the durable location of an uploaded binary payload.
// PublicId is the asset store's opaque handle for later deletion.
type AssetUpload struct {
	Url      string
	PublicId string
}

// AssetStore uploads binary payloads referenced by new elements before
// they become visible state, and removes stored assets when their
// owning element is deleted.
type AssetStore interface {
	Upload(ctx context.Context, src string, kind string) (*AssetUpload, error)
	Delete(ctx context.Context, publicId string, kind string) error
}

// DurableStore mirrors every accepted state mutation to the document
// store and loads the full element set on rehydration.
type DurableStore interface {
	LoadAll(ctx context.Context) ([]*Element, error)
	Create(ctx context.Context, element *Element) error
	Update(ctx context.Context, element *Element) error
	UpdateZIndex(ctx context.Context, elementId string, zIndex int) error
	Delete(ctx context.Context, elementId string) error
}
