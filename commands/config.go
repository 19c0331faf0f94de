package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/symdex/symdex/request"
)

// NewConfig gets or sets a named option in storage. Values are stored as
// their JSON encoding.
func NewConfig(deps Deps) *request.Command {
	var args struct {
		Get    bool
		Option string
		Value  json.RawMessage
	}

	cmd := request.NewCommand("config", "Get/set server configuration", "config> ",
		func(ctx context.Context, out io.Writer) error {
			if args.Option == "" {
				return errors.New("config requires an option name")
			}
			if args.Get {
				value, ok, err := deps.Store.GetOption(ctx, args.Option)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("option %q is not set", args.Option)
				}
				fmt.Fprintln(out, value)
				return nil
			}
			if len(args.Value) == 0 {
				return errors.New("config set requires a value")
			}
			if err := deps.Store.SetOption(ctx, args.Option, string(args.Value)); err != nil {
				return err
			}
			fmt.Fprintf(out, "Set %s\n", args.Option)
			return nil
		})

	cmd.Add(request.Key("get", &args.Get).
		Metavar("true|false").
		Description("if true, get the option value. Otherwise, set it").
		Default(false))
	cmd.Add(request.Key("option", &args.Option).
		Metavar("NAME").
		Description("option name"))
	cmd.Add(request.Key("value", &args.Value).
		Metavar("JSON_VAL").
		Description("JSON-encoded option value"))
	return cmd
}
