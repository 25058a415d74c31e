// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/amhsctl/pkg/document"
	"github.com/dukex/amhsctl/pkg/pathcodec"
	"github.com/dukex/amhsctl/pkg/pipeline"
	"github.com/dukex/amhsctl/pkg/registry"
)

const (
	LoadSeedStep      = "load_seed"
	DefaultTracksBody = "default_oht_tracks"
)

// SeedLoader reads the stored layout seed input.
type SeedLoader interface {
	Load(ctx context.Context) (*document.Document, error)
}

func registerNativeSteps(reg *registry.Registry, seeds SeedLoader) error {
	return reg.RegisterStep(LoadSeedStep, func(ctx context.Context) (string, error) {
		doc, err := seeds.Load(ctx)
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("Loaded %d fields", len(pathcodec.Flatten(doc))), nil
	})
}

func registerNativeBodies(reg *registry.Registry) error {
	return reg.RegisterBody(DefaultTracksBody, func(context.Context) (any, error) {
		return pipeline.TrackRequests(pipeline.DefaultOHTPairs()), nil
	})
}

func NewRegistry(log *slog.Logger, seeds SeedLoader) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)

	if err := registerNativeSteps(reg, seeds); err != nil {
		return nil, err
	}

	if err := registerNativeBodies(reg); err != nil {
		return nil, err
	}

	return reg, nil
}
