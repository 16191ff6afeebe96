package main

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/gogpu/compose/internal/pixbuf"
	"github.com/gogpu/compose/store"
)

// writer delivers one rendered frame's pixels somewhere durable. A real
// host has many of these (EXR, DPX, a network stream); spec.md §1 treats
// file writers as an external collaborator this module only calls through
// an interface. "png" is the one built-in implementation, so the CLI is
// runnable without a host.
type writer interface {
	Write(img *store.Image, path string) error
}

// pngWriter encodes a store.Image straight to a PNG file via the standard
// library, using pixbuf.ImageAdapter so no pixel format conversion code
// needs to live in this package (spec.md §6: a writer only needs the
// Image's pixels, not the cache/trimap machinery around them).
type pngWriter struct{}

func (pngWriter) Write(img *store.Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	adapter := pixbuf.ImageAdapter{
		Buf:  img.Buf(),
		Rect: image.Rect(img.Bounds.X0, img.Bounds.Y0, img.Bounds.X1, img.Bounds.Y1),
	}
	if err := png.Encode(f, adapter); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}

// newWriter resolves a project writer's declared "type" (e.g. "png") to an
// implementation. The CLI's --writer flag instead names one of the
// project's "writers" entries by Name — see project.go's projectWriter —
// so a project can declare several differently-configured outputs.
func newWriter(writerType string) (writer, error) {
	switch writerType {
	case "png":
		return pngWriter{}, nil
	default:
		return nil, fmt.Errorf("unknown writer type %q (only \"png\" is built in; other writer backends are a host's external collaborator per spec.md §1)", writerType)
	}
}
