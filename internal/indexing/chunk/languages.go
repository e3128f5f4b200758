package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig binds one tree-sitter grammar to the node types the
// chunker treats as function/class boundaries, so a new language can be
// registered without changing ChunkFile's call sites.
type LanguageConfig struct {
	Name          string
	Extensions    []string
	Grammar       *sitter.Language
	FunctionTypes map[string]bool
	ClassTypes    map[string]bool
	NameField     string
}

// languageRegistry maps a lowercased extension to its LanguageConfig.
type languageRegistry struct {
	mu    sync.RWMutex
	byExt map[string]*LanguageConfig
}

func newLanguageRegistry() *languageRegistry {
	r := &languageRegistry{byExt: make(map[string]*LanguageConfig)}
	r.register(goLanguage())
	r.register(javascriptLanguage())
	r.register(jsxLanguage())
	r.register(typescriptLanguage())
	r.register(tsxLanguage())
	r.register(pythonLanguage())
	return r
}

func (r *languageRegistry) register(cfg *LanguageConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range cfg.Extensions {
		r.byExt[ext] = cfg
	}
}

func (r *languageRegistry) forExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byExt[strings.ToLower(ext)]
	return cfg, ok
}

// defaultLanguages is the registry ChunkFile consults; callers never
// touch it directly, they just hand ChunkFile an extension.
var defaultLanguages = newLanguageRegistry()

func goLanguage() *LanguageConfig {
	return &LanguageConfig{
		Name:       "go",
		Extensions: []string{".go"},
		Grammar:    golang.GetLanguage(),
		FunctionTypes: map[string]bool{
			"function_declaration": true,
			"method_declaration":   true,
		},
		ClassTypes: map[string]bool{}, // Go has no class construct
		NameField:  "name",
	}
}

func javascriptLanguage() *LanguageConfig {
	return &LanguageConfig{
		Name:       "javascript",
		Extensions: []string{".js", ".mjs", ".cjs"},
		Grammar:    javascript.GetLanguage(),
		FunctionTypes: map[string]bool{
			"function_declaration":           true,
			"generator_function_declaration": true,
			"method_definition":              true,
		},
		ClassTypes: map[string]bool{"class_declaration": true},
		NameField:  "name",
	}
}

func jsxLanguage() *LanguageConfig {
	cfg := javascriptLanguage()
	cfg.Name = "jsx"
	cfg.Extensions = []string{".jsx"}
	return cfg
}

func typescriptLanguage() *LanguageConfig {
	return &LanguageConfig{
		Name:       "typescript",
		Extensions: []string{".ts"},
		Grammar:    typescript.GetLanguage(),
		FunctionTypes: map[string]bool{
			"function_declaration": true,
			"method_definition":    true,
		},
		ClassTypes: map[string]bool{"class_declaration": true},
		NameField:  "name",
	}
}

func tsxLanguage() *LanguageConfig {
	cfg := typescriptLanguage()
	cfg.Name = "tsx"
	cfg.Extensions = []string{".tsx"}
	cfg.Grammar = tsx.GetLanguage()
	return cfg
}

func pythonLanguage() *LanguageConfig {
	return &LanguageConfig{
		Name:       "python",
		Extensions: []string{".py"},
		Grammar:    python.GetLanguage(),
		FunctionTypes: map[string]bool{
			"function_definition": true,
		},
		ClassTypes: map[string]bool{"class_definition": true},
		NameField:  "name",
	}
}
