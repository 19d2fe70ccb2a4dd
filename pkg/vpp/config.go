package vpp

import (
	"context"

	"github.com/levenlabs/go-lflag"
)

// Source loads registries from the files named by flags, falling back to
// the bundled data.
type Source struct {
	derPath string
	vppPath string
}

// Configured registers the registry flags and returns the Source.
func Configured() *Source {
	s := &Source{}
	derPath := lflag.String("der-registry-file", "", "Path to a DER registry JSON file overriding the bundled one")
	vppPath := lflag.String("vpp-registry-file", "", "Path to a VPP registry JSON file overriding the bundled one")

	lflag.Do(func() {
		s.derPath = *derPath
		s.vppPath = *vppPath
	})
	return s
}

// NewSource returns a Source reading the given files.
func NewSource(derPath, vppPath string) *Source {
	return &Source{derPath: derPath, vppPath: vppPath}
}

// Load reads a fresh registry snapshot.
func (s *Source) Load(ctx context.Context) (*Registry, error) {
	return LoadRegistry(ctx, s.derPath, s.vppPath)
}
