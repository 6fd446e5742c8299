package merge

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"novelhub/internal/catalog"
	"novelhub/pkg/models"
)

// Catalog merges two catalogs through r using their flattened form.
// A result that cannot be parsed back is a hard error, not a declined merge.
func Catalog(ctx context.Context, r Resolver, stored, updated models.Catalog, titles models.TitleIndex) (models.Catalog, error) {
	merged, err := r.Resolve(ctx, catalog.Flatten(stored, titles), catalog.Flatten(updated, titles))
	if err != nil {
		return nil, err
	}
	out, err := catalog.Unflatten(merged)
	if err != nil {
		return nil, fmt.Errorf("merge catalog: %w", err)
	}
	return out, nil
}

// Info merges two metadata records through r using their YAML form.
// Identical records are returned without calling r.
func Info(ctx context.Context, r Resolver, stored, fetched models.Info) (models.Info, error) {
	oldText, err := yaml.Marshal(stored)
	if err != nil {
		return models.Info{}, fmt.Errorf("merge info: encode stored: %w", err)
	}
	newText, err := yaml.Marshal(fetched)
	if err != nil {
		return models.Info{}, fmt.Errorf("merge info: encode fetched: %w", err)
	}
	if string(oldText) == string(newText) {
		return stored, nil
	}

	merged, err := r.Resolve(ctx, string(oldText), string(newText))
	if err != nil {
		return models.Info{}, err
	}
	var out models.Info
	if err := yaml.Unmarshal([]byte(merged), &out); err != nil {
		return models.Info{}, fmt.Errorf("merge info: decode result: %w", err)
	}
	return out, nil
}
