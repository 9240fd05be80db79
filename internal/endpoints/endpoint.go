// Package endpoints describes API operations as data: a method, a path
// template and a body kind. Every operation goes through the same Call.
package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Niputi/snowtransfer/internal/rest"
)

var ErrMissingParam = errors.New("endpoints: missing path parameter")

// Caller sends a request. *rest.Executor satisfies it.
type Caller interface {
	Request(ctx context.Context, path, method string, kind rest.BodyKind, body any) (json.RawMessage, error)
}

// Endpoint is one API operation. Path holds {name} placeholders.
type Endpoint struct {
	Name        string
	Method      string
	Path        string
	Kind        rest.BodyKind
	Description string
	Validate    func(body any) error
}

// Params returns the placeholder names of the path template in order.
func (e Endpoint) Params() []string {
	var names []string
	tmpl := e.Path
	for {
		open := strings.IndexByte(tmpl, '{')
		if open < 0 {
			return names
		}
		end := strings.IndexByte(tmpl[open:], '}')
		if end < 0 {
			return names
		}
		names = append(names, tmpl[open+1:open+end])
		tmpl = tmpl[open+end+1:]
	}
}

// Build expands the path template. Values are path-escaped.
func (e Endpoint) Build(params map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(e.Path) + 32)

	tmpl := e.Path
	for {
		open := strings.IndexByte(tmpl, '{')
		if open < 0 {
			b.WriteString(tmpl)
			return b.String(), nil
		}
		end := strings.IndexByte(tmpl[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("endpoints: %s: unterminated placeholder in %q", e.Name, e.Path)
		}
		name := tmpl[open+1 : open+end]
		v, ok := params[name]
		if !ok || v == "" {
			return "", fmt.Errorf("%w %q for %s", ErrMissingParam, name, e.Name)
		}
		b.WriteString(tmpl[:open])
		b.WriteString(url.PathEscape(v))
		tmpl = tmpl[open+end+1:]
	}
}

// Call validates body, expands the path and sends the request. When out is
// non-nil the response is decoded into it.
func (e Endpoint) Call(ctx context.Context, c Caller, params map[string]string, body, out any) error {
	if e.Validate != nil {
		if err := e.Validate(body); err != nil {
			return err
		}
	}

	path, err := e.Build(params)
	if err != nil {
		return err
	}

	raw, err := c.Request(ctx, path, e.Method, e.Kind, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("endpoints: %s: decode response: %w", e.Name, err)
	}
	return nil
}
