package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"novelhub/internal/local"
	"novelhub/pkg/models"
)

const (
	statusListed = "shorthand.listed"
	statusLast   = "shorthand.last"
)

var ErrBadShorthand = errors.New("bad shorthand index")

// statusStore is the part of local.Store the shorthand cache needs.
type statusStore interface {
	SetStatus(ctx context.Context, key string, v any) error
	Status(ctx context.Context, key string, out any) error
}

// resolveAddress accepts "source/nid", "#N" for the N-th work of the last
// `local list`, or "#0" for the last address used. The result becomes the
// new "#0".
func resolveAddress(ctx context.Context, st statusStore, arg string) (models.Address, error) {
	addr, err := lookupShorthand(ctx, st, arg)
	if err != nil {
		return models.Address{}, err
	}
	if err := st.SetStatus(ctx, statusLast, addr.String()); err != nil {
		return models.Address{}, err
	}
	return addr, nil
}

func lookupShorthand(ctx context.Context, st statusStore, arg string) (models.Address, error) {
	arg = strings.TrimSpace(arg)
	if !strings.HasPrefix(arg, "#") {
		return models.ParseAddress(arg)
	}

	n, err := strconv.Atoi(arg[1:])
	if err != nil || n < 0 {
		return models.Address{}, fmt.Errorf("%w: %q", ErrBadShorthand, arg)
	}

	var raw string
	if n == 0 {
		if err := st.Status(ctx, statusLast, &raw); err != nil {
			if errors.Is(err, local.ErrNotFound) {
				return models.Address{}, fmt.Errorf("%w: no address used yet", ErrBadShorthand)
			}
			return models.Address{}, err
		}
		return models.ParseAddress(raw)
	}

	var listed []string
	if err := st.Status(ctx, statusListed, &listed); err != nil && !errors.Is(err, local.ErrNotFound) {
		return models.Address{}, err
	}
	if n > len(listed) {
		return models.Address{}, fmt.Errorf("%w: %s (last listing has %d works)", ErrBadShorthand, arg, len(listed))
	}
	return models.ParseAddress(listed[n-1])
}

func rememberListing(ctx context.Context, st statusStore, works []models.WorkSummary) error {
	listed := make([]string, 0, len(works))
	for _, w := range works {
		listed = append(listed, w.Address.String())
	}
	return st.SetStatus(ctx, statusListed, listed)
}
