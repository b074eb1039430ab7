// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pyast extracts function metadata from Python source using
// tree-sitter. It feeds two consumers: the parse endpoint, which lists the
// testable functions in a file, and the generation pipeline, which validates
// generated test code and pulls its import statements before merging.
package pyast

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Sentinel errors for parse failures.
var (
	// ErrFileTooLarge means the source exceeds the parser's size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size")

	// ErrInvalidContent means the source is not valid UTF-8.
	ErrInvalidContent = errors.New("content is not valid UTF-8")

	// ErrInvalidSyntax means the source contains syntax errors. Returned by
	// ValidateSyntax; use errors.As with *SyntaxError for the location.
	ErrInvalidSyntax = errors.New("syntax error")
)

// DefaultMaxFileSize is the parse size limit. Python files past 10MB are
// generated artifacts, not hand-written code worth testing.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// SyntaxError reports the first syntax error found in a source.
type SyntaxError struct {
	Line int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at line %d", e.Line)
}

func (e *SyntaxError) Unwrap() error { return ErrInvalidSyntax }

// FunctionInfo describes one function or method extracted from a Python
// file. Line numbers are 1-based; StartLine is the def line, decorators
// excluded.
type FunctionInfo struct {
	Name       string   `json:"name"`
	StartLine  int      `json:"lineno"`
	EndLine    int      `json:"end_lineno"`
	Signature  string   `json:"signature"`
	Docstring  string   `json:"docstring,omitempty"`
	Decorators []string `json:"decorators,omitempty"`
	IsAsync    bool     `json:"is_async"`
	IsMethod   bool     `json:"is_method"`
	ClassName  string   `json:"class_name,omitempty"`
	Body       string   `json:"body"`
}

// ParseResult holds the functions extracted from one file. Extraction is
// error-tolerant: a file with syntax errors still yields the functions that
// parsed, with Err describing the first problem.
type ParseResult struct {
	FilePath  string         `json:"file_path"`
	Functions []FunctionInfo `json:"functions"`
	Err       string         `json:"error,omitempty"`
}

// Option configures a Parser.
type Option func(*Parser)

// WithMaxFileSize sets the maximum source size the parser will accept.
func WithMaxFileSize(bytes int64) Option {
	return func(p *Parser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// Parser extracts function metadata from Python source.
//
// Thread Safety: Safe for concurrent use. Each call creates its own
// tree-sitter parser instance.
type Parser struct {
	maxFileSize int64
}

// NewParser creates a Parser with the given options.
func NewParser(opts ...Option) *Parser {
	p := &Parser{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseFile reads and parses a Python file from disk.
//
// Outputs:
//   - *ParseResult: Functions found, possibly partial on syntax errors.
//   - error: Non-nil only for complete failures (missing file, size limit,
//     invalid UTF-8, canceled context).
func (p *Parser) ParseFile(ctx context.Context, filePath string) (*ParseResult, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filePath, err)
	}
	return p.ParseSource(ctx, content, filePath)
}

// ParseSource extracts top-level functions and class methods from Python
// source. Nested functions are not surfaced — they are not independently
// testable targets.
func (p *Parser) ParseSource(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
	start := time.Now()

	tree, err := p.parse(ctx, content)
	if err != nil {
		recordParseMetrics(time.Since(start), false)
		return nil, err
	}
	defer tree.Close()

	result := &ParseResult{
		FilePath:  filePath,
		Functions: make([]FunctionInfo, 0),
	}

	root := tree.RootNode()
	if root.HasError() {
		if node := firstErrorNode(root); node != nil {
			result.Err = fmt.Sprintf("syntax error at line %d", int(node.StartPoint().Row+1))
		} else {
			result.Err = "source contains syntax errors"
		}
	}

	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case "function_definition":
			if fn := p.extractFunction(child, content, nil, ""); fn != nil {
				result.Functions = append(result.Functions, *fn)
			}
		case "decorated_definition":
			p.extractDecorated(child, content, "", result)
		case "class_definition":
			p.extractClassMethods(child, content, result)
		}
	}

	recordParseMetrics(time.Since(start), true)
	return result, nil
}

// ValidateSyntax reports whether the source parses cleanly. Used as the
// acceptance gate on generated test code before it touches the workspace.
//
// Outputs:
//   - error: Nil for valid source. *SyntaxError (wrapping ErrInvalidSyntax)
//     with the first error line otherwise.
func (p *Parser) ValidateSyntax(ctx context.Context, content []byte) error {
	tree, err := p.parse(ctx, content)
	if err != nil {
		return err
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil
	}
	line := 1
	if node := firstErrorNode(root); node != nil {
		line = int(node.StartPoint().Row + 1)
	}
	return &SyntaxError{Line: line}
}

// ExtractImports returns the verbatim text of every top-level import
// statement in the source, in order of appearance. Inline imports inside
// function bodies stay where they are — moving them would change behavior.
func (p *Parser) ExtractImports(ctx context.Context, content []byte) ([]string, error) {
	tree, err := p.parse(ctx, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var imports []string
	root := tree.RootNode()
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case "import_statement", "import_from_statement":
			imports = append(imports, string(content[child.StartByte():child.EndByte()]))
		}
	}
	return imports, nil
}

// parse validates the input and runs tree-sitter. A new parser instance per
// call keeps the Parser safe for concurrent use.
func (p *Parser) parse(ctx context.Context, content []byte) (*sitter.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}
	if int64(len(content)) > p.maxFileSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.maxFileSize)
	}
	if !utf8.Valid(content) {
		return nil, ErrInvalidContent
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	return tree, nil
}

// extractClassMethods pulls each method of a class into the result.
func (p *Parser) extractClassMethods(classNode *sitter.Node, content []byte, result *ParseResult) {
	var className string
	var body *sitter.Node
	for i := 0; i < int(classNode.ChildCount()); i++ {
		child := classNode.Child(i)
		switch child.Type() {
		case "identifier":
			if className == "" {
				className = string(content[child.StartByte():child.EndByte()])
			}
		case "block":
			body = child
		}
	}
	if className == "" || body == nil {
		return
	}

	for i := 0; i < int(body.ChildCount()); i++ {
		child := body.Child(i)
		switch child.Type() {
		case "function_definition":
			if fn := p.extractFunction(child, content, nil, className); fn != nil {
				result.Functions = append(result.Functions, *fn)
			}
		case "decorated_definition":
			p.extractDecorated(child, content, className, result)
		}
	}
}

// extractDecorated handles a decorated_definition node: a decorated function
// or method is extracted with its decorator names; a decorated class has its
// methods extracted.
func (p *Parser) extractDecorated(node *sitter.Node, content []byte, className string, result *ParseResult) {
	decorators := extractDecorators(node, content)
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "function_definition":
			if fn := p.extractFunction(child, content, decorators, className); fn != nil {
				result.Functions = append(result.Functions, *fn)
			}
		case "class_definition":
			if className == "" {
				p.extractClassMethods(child, content, result)
			}
		}
	}
}

// extractFunction builds a FunctionInfo from a function_definition node.
func (p *Parser) extractFunction(node *sitter.Node, content []byte, decorators []string, className string) *FunctionInfo {
	var name, params, returnType, docstring string
	var isAsync bool

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "async":
			isAsync = true
		case "identifier":
			name = string(content[child.StartByte():child.EndByte()])
		case "parameters":
			params = string(content[child.StartByte():child.EndByte()])
		case "type":
			returnType = string(content[child.StartByte():child.EndByte()])
		case "block":
			docstring = extractDocstring(child, content)
		}
	}
	if name == "" {
		return nil
	}

	signature := fmt.Sprintf("def %s%s", name, params)
	if isAsync {
		signature = "async " + signature
	}
	if returnType != "" {
		signature += " -> " + returnType
	}

	startLine := int(node.StartPoint().Row + 1)
	endLine := int(node.EndPoint().Row + 1)

	return &FunctionInfo{
		Name:       name,
		StartLine:  startLine,
		EndLine:    endLine,
		Signature:  signature,
		Docstring:  docstring,
		Decorators: decorators,
		IsAsync:    isAsync,
		IsMethod:   className != "",
		ClassName:  className,
		Body:       sliceLines(content, startLine, endLine),
	}
}

// extractDecorators returns decorator names from a decorated_definition.
// For "@foo(x)" the name is "foo"; for "@mod.attr" it is "mod.attr".
func extractDecorators(node *sitter.Node, content []byte) []string {
	var decorators []string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "decorator" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			gc := child.Child(j)
			switch gc.Type() {
			case "identifier", "attribute":
				decorators = append(decorators, string(content[gc.StartByte():gc.EndByte()]))
			case "call":
				for k := 0; k < int(gc.ChildCount()); k++ {
					fn := gc.Child(k)
					if fn.Type() == "identifier" || fn.Type() == "attribute" {
						decorators = append(decorators, string(content[fn.StartByte():fn.EndByte()]))
						break
					}
				}
			}
		}
	}
	return decorators
}

// extractDocstring returns the docstring of a block node, quotes stripped.
func extractDocstring(block *sitter.Node, content []byte) string {
	if block.ChildCount() == 0 {
		return ""
	}
	first := block.Child(0)
	if first.Type() != "expression_statement" || first.ChildCount() == 0 {
		return ""
	}
	strNode := first.Child(0)
	if strNode.Type() != "string" {
		return ""
	}
	raw := string(content[strNode.StartByte():strNode.EndByte()])
	return strings.TrimSpace(strings.Trim(raw, `"'`))
}

// firstErrorNode descends to the earliest ERROR or missing node in a tree
// that HasError.
func firstErrorNode(node *sitter.Node) *sitter.Node {
	if node == nil || !node.HasError() {
		return nil
	}
	if node.Type() == "ERROR" || node.IsMissing() {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := firstErrorNode(node.Child(i)); found != nil {
			return found
		}
	}
	return node
}

// sliceLines returns lines startLine..endLine (1-based, inclusive) of the
// source, newline-joined.
func sliceLines(content []byte, startLine, endLine int) string {
	lines := strings.Split(string(content), "\n")
	if startLine < 1 {
		startLine = 1
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > endLine {
		return ""
	}
	return strings.Join(lines[startLine-1:endLine], "\n")
}
