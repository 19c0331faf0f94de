package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/symdex/symdex/request"
	"github.com/symdex/symdex/storage"
)

// NewFind locates the definitions of the symbol at a file offset. The
// symbol is resolved narrowest-first, so nested identifiers win over their
// enclosing declarations.
func NewFind(deps Deps) *request.Command {
	var args struct {
		File         string
		Offset       int
		MostSpecific bool
		FromIndex    bool
	}

	cmd := request.NewCommand("find", "Find the definition of a symbol", "find> ",
		func(ctx context.Context, out io.Writer) error {
			if args.File == "" {
				return errors.New("find requires a file")
			}

			refs, err := symbolsAt(ctx, deps, args.File, args.Offset, args.FromIndex)
			if err != nil {
				return err
			}
			if len(refs) == 0 {
				return fmt.Errorf("no symbol found at %s offset %d", args.File, args.Offset)
			}
			if args.MostSpecific {
				refs = refs[:1]
			}

			for _, ref := range refs {
				fmt.Fprintf(out, "-- %s -- %s\n", ref.Name, ref.USR)
				defs, err := deps.Store.FindDefinitions(ctx, ref.USR)
				if err != nil {
					return err
				}
				if len(defs) == 0 {
					fmt.Fprintln(out, "   <no definition found>")
					continue
				}
				for _, def := range defs {
					fmt.Fprintf(out, "   %s:%d:%d: %s\n", def.File, def.Line, def.Col, def.Signature)
				}
			}
			return nil
		})

	cmd.Add(request.Key("file", &args.File).
		Metavar("FILENAME").
		Description("source file name"))
	cmd.Add(request.Key("offset", &args.Offset).
		Metavar("OFFSET").
		Description("offset in bytes"))
	cmd.Add(request.Key("mostSpecific", &args.MostSpecific).
		Metavar("true|false").
		Description("if true, only report the most specific symbol").
		Default(false))
	cmd.Add(request.Key("fromIndex", &args.FromIndex).
		Metavar("true|false").
		Description("if true, look for symbols in the index. Otherwise, reparse the file").
		Default(true))
	return cmd
}

// symbolsAt resolves the identifiers covering a byte offset, either from
// the persisted index or from a fresh parse of the current file contents.
func symbolsAt(ctx context.Context, deps Deps, file string, offset int, fromIndex bool) ([]storage.Reference, error) {
	if fromIndex {
		return deps.Store.ReferencesAt(ctx, file, offset)
	}

	content, _, err := deps.Cache.Load(file)
	if err != nil {
		return nil, err
	}
	_, refs, err := deps.Extractor.Extract(ctx, file, content)
	if err != nil {
		return nil, err
	}

	var covering []storage.Reference
	for _, ref := range refs {
		if ref.StartByte <= offset && offset < ref.EndByte {
			covering = append(covering, ref)
		}
	}
	sort.Slice(covering, func(i, j int) bool {
		return covering[i].EndByte-covering[i].StartByte < covering[j].EndByte-covering[j].StartByte
	})
	return covering, nil
}

// NewGrep lists every indexed reference to a symbol, definitions included.
func NewGrep(deps Deps) *request.Command {
	var args struct {
		USR string
	}

	cmd := request.NewCommand("grep", "Find all uses of a definition", "grep> ",
		func(ctx context.Context, out io.Writer) error {
			refs, err := deps.Store.References(ctx, args.USR)
			if err != nil {
				return err
			}
			for _, ref := range refs {
				fmt.Fprintf(out, "%s:%d:%d: %s\n", ref.File, ref.Line, ref.Col, ref.Name)
			}
			return nil
		})

	cmd.Add(request.Key("usr", &args.USR).
		Metavar("USR").
		Description("USR for the symbol").
		Default("c:main"))
	return cmd
}
