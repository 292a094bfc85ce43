// Package resolver turns the configured output mode into a response.
package resolver

import (
	"fmt"

	"github.com/Brownie44l1/sockserve/internal/config"
	"github.com/Brownie44l1/sockserve/internal/filestore"
	"github.com/Brownie44l1/sockserve/internal/mimetype"
	"github.com/Brownie44l1/sockserve/internal/response"
)

// Bodies sent when the file mode cannot serve the configured path.
const (
	FileNotFound = "FILE NOT FOUND"
	UnknownFile  = "UNKNOWN FILE"
)

// VideoStream asks the session to stream frames from a camera device.
type VideoStream struct {
	Device int
}

// Output is the result of resolution. Exactly one field is set.
type Output struct {
	Response *response.ServiceResponse
	Stream   *VideoStream
}

// Resolver maps a mode to its output. It holds no per-request state and is
// safe for concurrent use.
type Resolver struct {
	store filestore.Store
}

func New(store filestore.Store) *Resolver {
	if store == nil {
		store = filestore.OS{}
	}
	return &Resolver{store: store}
}

// Resolve produces a fresh output for mode. Errors come only from the file
// store failing on a path that exists.
func (r *Resolver) Resolve(mode config.Mode, flags config.Flags) (Output, error) {
	switch m := mode.(type) {
	case config.Text:
		return Output{Response: response.Text(m.Body)}, nil
	case config.Redirect:
		return Output{Response: response.Redirect(m.Location)}, nil
	case config.File:
		resp, err := r.file(m.Path, flags)
		if err != nil {
			return Output{}, err
		}
		return Output{Response: resp}, nil
	case config.Camera:
		return Output{Stream: &VideoStream{Device: m.Device}}, nil
	default:
		// config.Mode is sealed; only a nil mode reaches this.
		return Output{}, fmt.Errorf("unsupported mode %T", mode)
	}
}

func (r *Resolver) file(path string, flags config.Flags) (*response.ServiceResponse, error) {
	f, ok, err := r.store.Stat(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return response.Text(FileNotFound), nil
	}

	contentType, ok := mimetype.Lookup(f.Extension)
	if !ok {
		return response.Text(UnknownFile), nil
	}

	data, err := r.store.ReadAll(f)
	if err != nil {
		return nil, err
	}

	resp := response.Bytes(contentType, data)
	if flags.Download {
		resp.Headers.Set("Content-Type", mimetype.OctetStream)
		resp.Headers.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.Name))
	}
	if flags.Stream {
		resp.ForceChunked()
	}
	return resp, nil
}
