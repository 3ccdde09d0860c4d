package main

import (
	"github.com/AustinTapp/FAST/mock"
	"github.com/AustinTapp/FAST/pipeline"
)

// newRegistry returns the registry of built-in node types.
func newRegistry() (*pipeline.Registry, error) {
	r := pipeline.NewRegistry()
	if err := mock.Register(r); err != nil {
		return nil, err
	}
	return r, nil
}
