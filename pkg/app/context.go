package app

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Context holds run-wide configuration and the operator-facing writers
type Context struct {
	context.Context

	// Output
	Out     io.Writer
	ErrOut  io.Writer
	Verbose bool
	Preen   bool

	// DeviceName is how the checked volume is named in messages; it
	// defaults to the device path and can be overridden with -N
	DeviceName string

	// Progress reporting
	ProgressCallback func(message string, percent int)
}

// NewContext creates a new application context writing to stdout/stderr
func NewContext() *Context {
	return &Context{
		Context: context.Background(),
		Out:     os.Stdout,
		ErrOut:  os.Stderr,
	}
}

// WithCancel creates a cancellable context
func (c *Context) WithCancel() (*Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(c.Context)
	newCtx := *c
	newCtx.Context = ctx
	return &newCtx, cancel
}

// WithParent returns a copy of c bound to parent
func (c *Context) WithParent(parent context.Context) *Context {
	newCtx := *c
	newCtx.Context = parent
	return &newCtx
}

// SetProgress sets the progress callback function
func (c *Context) SetProgress(callback func(string, int)) {
	c.ProgressCallback = callback
}

// Progress reports progress if callback is set
func (c *Context) Progress(message string, percent int) {
	if c.ProgressCallback != nil {
		c.ProgressCallback(message, percent)
	}
}

// Printf writes operator output
func (c *Context) Printf(format string, args ...any) {
	fmt.Fprintf(c.Out, format, args...)
}

// Error outputs an error message prefixed with the device name
func (c *Context) Error(message string) {
	if c.DeviceName != "" {
		fmt.Fprintf(c.ErrOut, "%s: %s\n", c.DeviceName, message)
		return
	}
	fmt.Fprintln(c.ErrOut, message)
}
