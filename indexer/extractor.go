package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/symdex/symdex/storage"
)

// Symbol kinds recorded in the index.
const (
	KindFunction = "function"
	KindMethod   = "method"
	KindType     = "type"
	KindClass    = "class"
	KindStruct   = "struct"
	KindEnum     = "enum"
)

// Extractor parses source files with tree-sitter and produces definition
// symbols plus identifier references. The underlying parsers are not safe
// for concurrent use, and the extractor is shared between the rescan
// goroutine and request handlers, so Extract serializes them internally.
type Extractor struct {
	mu        sync.Mutex
	parsers   map[string]*sitter.Parser
	languages map[string]string
}

// NewExtractor builds parsers for the enabled extensions. Extensions without
// a grammar are silently left unsupported.
func NewExtractor(extensions []string) *Extractor {
	grammars := map[string]*sitter.Language{
		".go":  golang.GetLanguage(),
		".c":   c.GetLanguage(),
		".h":   c.GetLanguage(),
		".cpp": cpp.GetLanguage(),
		".hpp": cpp.GetLanguage(),
		".cc":  cpp.GetLanguage(),
		".cxx": cpp.GetLanguage(),
		".py":  python.GetLanguage(),
		".js":  javascript.GetLanguage(),
	}
	langNames := map[string]string{
		".go": "go", ".c": "c", ".h": "c",
		".cpp": "cpp", ".hpp": "cpp", ".cc": "cpp", ".cxx": "cpp",
		".py": "python", ".js": "javascript",
	}

	ext := &Extractor{
		parsers:   make(map[string]*sitter.Parser),
		languages: make(map[string]string),
	}
	for _, extension := range extensions {
		lang, ok := grammars[extension]
		if !ok {
			continue
		}
		parser := sitter.NewParser()
		parser.SetLanguage(lang)
		ext.parsers[extension] = parser
		ext.languages[extension] = langNames[extension]
	}
	return ext
}

// Supported reports whether the file's extension has a parser.
func (e *Extractor) Supported(path string) bool {
	_, ok := e.parsers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extract parses content and returns the definitions and identifier
// references found in it. USRs use the scheme "<language>:<name>".
func (e *Extractor) Extract(ctx context.Context, path string, content []byte) ([]storage.Symbol, []storage.Reference, error) {
	extension := strings.ToLower(filepath.Ext(path))
	parser, ok := e.parsers[extension]
	if !ok {
		return nil, nil, nil
	}
	lang := e.languages[extension]

	// tree-sitter parser state lives in C memory; concurrent ParseCtx
	// calls corrupt it outside the race detector's view.
	e.mu.Lock()
	defer e.mu.Unlock()

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	defer tree.Close()

	var symbols []storage.Symbol
	var refs []storage.Reference
	e.walk(tree.RootNode(), content, path, lang, &symbols, &refs)
	return symbols, refs, nil
}

func (e *Extractor) walk(node *sitter.Node, content []byte, path, lang string, symbols *[]storage.Symbol, refs *[]storage.Reference) {
	nodeType := node.Type()

	switch lang {
	case "go":
		e.extractGoSymbol(node, nodeType, content, path, symbols)
	case "c", "cpp":
		e.extractCSymbol(node, nodeType, content, path, lang, symbols)
	case "python":
		e.extractPythonSymbol(node, nodeType, content, path, symbols)
	case "javascript":
		e.extractJSSymbol(node, nodeType, content, path, symbols)
	}

	switch nodeType {
	case "identifier", "type_identifier", "field_identifier", "property_identifier":
		name := node.Content(content)
		if name != "" {
			*refs = append(*refs, storage.Reference{
				USR:       lang + ":" + name,
				Name:      name,
				File:      path,
				Line:      int(node.StartPoint().Row) + 1,
				Col:       int(node.StartPoint().Column),
				StartByte: int(node.StartByte()),
				EndByte:   int(node.EndByte()),
			})
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		e.walk(node.Child(i), content, path, lang, symbols, refs)
	}
}

func (e *Extractor) extractGoSymbol(node *sitter.Node, nodeType string, content []byte, path string, symbols *[]storage.Symbol) {
	switch nodeType {
	case "function_declaration":
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			*symbols = append(*symbols, makeSymbol(node, nameNode, content, path, KindFunction, "go"))
		}
	case "method_declaration":
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			*symbols = append(*symbols, makeSymbol(node, nameNode, content, path, KindMethod, "go"))
		}
	case "type_spec":
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			*symbols = append(*symbols, makeSymbol(node, nameNode, content, path, KindType, "go"))
		}
	}
}

func (e *Extractor) extractCSymbol(node *sitter.Node, nodeType string, content []byte, path, lang string, symbols *[]storage.Symbol) {
	switch nodeType {
	case "function_definition":
		if name, nameNode := declaratorName(node, content); name != "" {
			*symbols = append(*symbols, makeSymbol(node, nameNode, content, path, KindFunction, lang))
		}
	case "struct_specifier":
		if nameNode := node.ChildByFieldName("name"); nameNode != nil && hasBody(node) {
			*symbols = append(*symbols, makeSymbol(node, nameNode, content, path, KindStruct, lang))
		}
	case "class_specifier":
		if nameNode := node.ChildByFieldName("name"); nameNode != nil && hasBody(node) {
			*symbols = append(*symbols, makeSymbol(node, nameNode, content, path, KindClass, lang))
		}
	case "enum_specifier":
		if nameNode := node.ChildByFieldName("name"); nameNode != nil && hasBody(node) {
			*symbols = append(*symbols, makeSymbol(node, nameNode, content, path, KindEnum, lang))
		}
	}
}

func (e *Extractor) extractPythonSymbol(node *sitter.Node, nodeType string, content []byte, path string, symbols *[]storage.Symbol) {
	switch nodeType {
	case "function_definition":
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			*symbols = append(*symbols, makeSymbol(node, nameNode, content, path, KindFunction, "python"))
		}
	case "class_definition":
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			*symbols = append(*symbols, makeSymbol(node, nameNode, content, path, KindClass, "python"))
		}
	}
}

func (e *Extractor) extractJSSymbol(node *sitter.Node, nodeType string, content []byte, path string, symbols *[]storage.Symbol) {
	switch nodeType {
	case "function_declaration":
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			*symbols = append(*symbols, makeSymbol(node, nameNode, content, path, KindFunction, "javascript"))
		}
	case "class_declaration":
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			*symbols = append(*symbols, makeSymbol(node, nameNode, content, path, KindClass, "javascript"))
		}
	case "method_definition":
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			*symbols = append(*symbols, makeSymbol(node, nameNode, content, path, KindMethod, "javascript"))
		}
	}
}

func makeSymbol(node, nameNode *sitter.Node, content []byte, path, kind, lang string) storage.Symbol {
	name := nameNode.Content(content)
	return storage.Symbol{
		USR:       lang + ":" + name,
		Name:      name,
		Kind:      kind,
		File:      path,
		Line:      int(nameNode.StartPoint().Row) + 1,
		Col:       int(nameNode.StartPoint().Column),
		EndLine:   int(node.EndPoint().Row) + 1,
		StartByte: int(node.StartByte()),
		EndByte:   int(node.EndByte()),
		Signature: truncateSignature(node.Content(content)),
		Language:  lang,
	}
}

// declaratorName digs through nested declarators to the defining identifier.
func declaratorName(node *sitter.Node, content []byte) (string, *sitter.Node) {
	n := node
	for n != nil {
		switch n.Type() {
		case "identifier", "field_identifier", "qualified_identifier", "destructor_name", "operator_name":
			return n.Content(content), n
		}
		n = n.ChildByFieldName("declarator")
	}
	return "", nil
}

// hasBody filters out forward declarations like "struct foo;".
func hasBody(node *sitter.Node) bool {
	return node.ChildByFieldName("body") != nil
}

func truncateSignature(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	if len(text) > 120 {
		text = text[:120]
	}
	return text
}
