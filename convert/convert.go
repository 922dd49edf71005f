// Package convert defines the contract between the job engine and the
// conversion routines. The routines themselves are stateless transforms
// registered per conversion category; the engine never knows how a given
// format pair is produced.
package convert

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"convertd/models"
)

// ErrUnsupported means no routine is registered for the requested
// category or format pair.
var ErrUnsupported = errors.New("convert: unsupported conversion")

// Func converts a single input payload into a single output payload.
type Func func(ctx context.Context, input []byte, inputFormat, outputFormat string, quality *int) ([]byte, error)

// MultiFunc converts one input into one output payload per contained
// asset (e.g. one image per PDF page). The engine packages multi-asset
// results into a single archive artifact.
type MultiFunc func(ctx context.Context, input []byte, outputFormat string, quality *int) ([][]byte, error)

// Registry maps conversion categories to their routines.
type Registry struct {
	mu    sync.RWMutex
	funcs map[models.ConversionType]Func
	multi map[models.ConversionType]MultiFunc
}

func NewRegistry() *Registry {
	return &Registry{
		funcs: make(map[models.ConversionType]Func),
		multi: make(map[models.ConversionType]MultiFunc),
	}
}

// Register installs the routine for a category, replacing any previous one.
func (r *Registry) Register(ct models.ConversionType, fn Func) {
	r.mu.Lock()
	r.funcs[ct] = fn
	r.mu.Unlock()
}

// RegisterMulti installs a multi-asset routine for a category.
func (r *Registry) RegisterMulti(ct models.ConversionType, fn MultiFunc) {
	r.mu.Lock()
	r.multi[ct] = fn
	r.mu.Unlock()
}

// Convert runs the registered routine for the category.
func (r *Registry) Convert(ctx context.Context, ct models.ConversionType, input []byte, inputFormat, outputFormat string, quality *int) ([]byte, error) {
	r.mu.RLock()
	fn, ok := r.funcs[ct]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s %s->%s", ErrUnsupported, ct, inputFormat, outputFormat)
	}
	return fn(ctx, input, inputFormat, outputFormat, quality)
}

// ConvertMulti runs the registered multi-asset routine for the category.
func (r *Registry) ConvertMulti(ctx context.Context, ct models.ConversionType, input []byte, outputFormat string, quality *int) ([][]byte, error) {
	r.mu.RLock()
	fn, ok := r.multi[ct]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s multi-asset ->%s", ErrUnsupported, ct, outputFormat)
	}
	return fn(ctx, input, outputFormat, quality)
}

// SupportsMulti reports whether a multi-asset routine exists for the category.
func (r *Registry) SupportsMulti(ct models.ConversionType) bool {
	r.mu.RLock()
	_, ok := r.multi[ct]
	r.mu.RUnlock()
	return ok
}
