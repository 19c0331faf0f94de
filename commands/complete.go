package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/symdex/symdex/request"
)

// NewComplete proposes indexed symbols matching the identifier prefix at a
// cursor position. Line and column are zero-based, matching editor
// conventions.
func NewComplete(deps Deps) *request.Command {
	var args struct {
		File   string
		Line   int
		Column int
	}

	cmd := request.NewCommand("complete", "Complete the code at point", "complete> ",
		func(ctx context.Context, out io.Writer) error {
			if args.File == "" {
				return errors.New("complete requires a file")
			}

			content, _, err := deps.Cache.Load(args.File)
			if err != nil {
				return err
			}
			prefix, err := prefixAt(content, args.Line, args.Column)
			if err != nil {
				return err
			}

			limit := deps.Config.Index.CompleteLimit
			symbols, err := deps.Store.SymbolsByPrefix(ctx, prefix, limit)
			if err != nil {
				return err
			}
			for _, sym := range symbols {
				fmt.Fprintf(out, "%s [%s] %s\n", sym.Name, sym.Kind, sym.Signature)
			}
			return nil
		})

	cmd.Add(request.Key("file", &args.File).
		Metavar("FILENAME").
		Description("source file name"))
	cmd.Add(request.Key("line", &args.Line).
		Metavar("LINE_NO").
		Description("line number (0-based)"))
	cmd.Add(request.Key("column", &args.Column).
		Metavar("COLUMN_NO").
		Description("column number (0-based)"))
	return cmd
}

// prefixAt extracts the partial identifier ending at the cursor.
func prefixAt(content []byte, line, column int) (string, error) {
	lines := bytes.Split(content, []byte("\n"))
	if line < 0 || line >= len(lines) {
		return "", fmt.Errorf("line %d is out of range", line)
	}
	text := lines[line]
	if column < 0 || column > len(text) {
		return "", fmt.Errorf("column %d is out of range on line %d", column, line)
	}

	start := column
	for start > 0 && isIdentByte(text[start-1]) {
		start--
	}
	return string(text[start:column]), nil
}

func isIdentByte(b byte) bool {
	return b == '_' ||
		('a' <= b && b <= 'z') ||
		('A' <= b && b <= 'Z') ||
		('0' <= b && b <= '9')
}
