// Package request implements the daemon's command registry and its two
// request front ends: one-shot (a single request from a stream) and serving
// (a sequential accept loop over a Unix-domain socket).
package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
)

// ErrTerminateServing is the distinguished outcome a handler returns to end
// the serving accept loop. It is not an error condition; the exit command is
// its only producer.
var ErrTerminateServing = errors.New("terminate serving requested")

// Handler executes a command after its parameters have been bound, writing
// human-readable output to out.
type Handler func(ctx context.Context, out io.Writer) error

// Param describes one command parameter and the destination its JSON value
// is decoded into.
type Param struct {
	name        string
	dest        any
	metavar     string
	description string
	def         any
	hasDefault  bool
}

// Key starts a parameter bound to dest, which must be a non-nil pointer.
func Key(name string, dest any) *Param {
	return &Param{name: name, dest: dest}
}

func (p *Param) Metavar(s string) *Param {
	p.metavar = s
	return p
}

func (p *Param) Description(s string) *Param {
	p.description = s
	return p
}

// Default sets the value assigned to the destination when the request omits
// the parameter.
func (p *Param) Default(v any) *Param {
	p.def = v
	p.hasDefault = true
	return p
}

// Command pairs a name, its parameter schema, and a handler. Commands are
// built once at startup and looked up by name per request.
type Command struct {
	name        string
	description string
	prompt      string
	params      []*Param
	handler     Handler
}

func NewCommand(name, description, prompt string, handler Handler) *Command {
	return &Command{
		name:        name,
		description: description,
		prompt:      prompt,
		handler:     handler,
	}
}

// Add appends a parameter to the schema; parameters bind in declaration
// order.
func (c *Command) Add(p *Param) *Command {
	c.params = append(c.params, p)
	return c
}

func (c *Command) Name() string        { return c.name }
func (c *Command) Description() string { return c.description }
func (c *Command) Prompt() string      { return c.prompt }

// Params returns the parameter schema for help output.
func (c *Command) Params() []ParamInfo {
	out := make([]ParamInfo, 0, len(c.params))
	for _, p := range c.params {
		out = append(out, ParamInfo{
			Name:        p.name,
			Metavar:     p.metavar,
			Description: p.description,
		})
	}
	return out
}

// ParamInfo is the externally visible description of a parameter.
type ParamInfo struct {
	Name        string `json:"name"`
	Metavar     string `json:"metavar,omitempty"`
	Description string `json:"description,omitempty"`
}

// reset restores every destination to its default (or zero) value. Commands
// are dispatched strictly sequentially, so destinations can be reused
// between requests as long as they are reset first.
func (c *Command) reset() error {
	for _, p := range c.params {
		rv := reflect.ValueOf(p.dest)
		if rv.Kind() != reflect.Pointer || rv.IsNil() {
			return fmt.Errorf("parameter %q of command %q is not bound to a pointer", p.name, c.name)
		}
		ev := rv.Elem()
		if !p.hasDefault {
			ev.Set(reflect.Zero(ev.Type()))
			continue
		}
		dv := reflect.ValueOf(p.def)
		if !dv.Type().AssignableTo(ev.Type()) {
			if !dv.Type().ConvertibleTo(ev.Type()) {
				return fmt.Errorf("default for parameter %q of command %q has incompatible type", p.name, c.name)
			}
			dv = dv.Convert(ev.Type())
		}
		ev.Set(dv)
	}
	return nil
}

// bind decodes the request's named fields into their destinations.
func (c *Command) bind(fields map[string]json.RawMessage) error {
	for name, raw := range fields {
		param := c.lookupParam(name)
		if param == nil {
			return fmt.Errorf("unknown parameter %q for command %q", name, c.name)
		}
		if err := json.Unmarshal(raw, param.dest); err != nil {
			return fmt.Errorf("invalid value for parameter %q of command %q: %w", name, c.name, err)
		}
	}
	return nil
}

func (c *Command) lookupParam(name string) *Param {
	for _, p := range c.params {
		if p.name == name {
			return p
		}
	}
	return nil
}

// Registry holds the daemon's command set. Immutable after startup;
// stateless beyond the command list.
type Registry struct {
	commands []*Command
	byName   map[string]*Command
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Command)}
}

// Add registers a command. Chainable so startup reads as one declaration.
func (r *Registry) Add(c *Command) *Registry {
	r.commands = append(r.commands, c)
	r.byName[c.name] = c
	return r
}

// Get looks up a command by name.
func (r *Registry) Get(name string) (*Command, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Commands returns the registered commands in registration order.
func (r *Registry) Commands() []*Command {
	return r.commands
}

// Dispatch decodes one raw request object, binds its parameters, and runs
// the matching handler. Malformed payloads and unknown commands come back as
// ordinary errors; ErrTerminateServing passes through untouched.
func (r *Registry) Dispatch(ctx context.Context, raw []byte, out io.Writer) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("malformed request: %w", err)
	}

	rawName, ok := fields["command"]
	if !ok {
		return errors.New("request is missing the command field")
	}
	var name string
	if err := json.Unmarshal(rawName, &name); err != nil {
		return fmt.Errorf("malformed command name: %w", err)
	}

	cmd, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}

	delete(fields, "command")
	if err := cmd.reset(); err != nil {
		return err
	}
	if err := cmd.bind(fields); err != nil {
		return err
	}
	return cmd.handler(ctx, out)
}
