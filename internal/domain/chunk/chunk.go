// Package chunk defines the Chunk data model shared by the chunker,
// BM25 index, vector index, and hybrid retriever.
package chunk

import "fmt"

// Kind distinguishes how a Chunk's boundaries were derived.
type Kind string

const (
	KindFunction Kind = "function"
	KindClass    Kind = "class"
	KindLines    Kind = "lines"
)

// Chunk is an addressable unit of source code. It is immutable once
// created; reindexing a file replaces its chunks atomically rather than
// mutating them in place.
type Chunk struct {
	ID           string `json:"id"`
	RepoID       string `json:"repo_id"`
	FilePath     string `json:"file_path"`
	FileName     string `json:"file_name"`
	FileType     string `json:"file_type"`
	FunctionName string `json:"function_name,omitempty"`
	LineStart    int    `json:"line_start"`
	LineEnd      int    `json:"line_end"`
	Content      string `json:"content"`
	Kind         Kind   `json:"kind"`
}

// FunctionID builds the stable id for a function/method chunk.
func FunctionID(filePath, name string) string {
	return fmt.Sprintf("%s_fn_%s", filePath, name)
}

// ClassID builds the stable id for a class chunk.
func ClassID(filePath, name string) string {
	return fmt.Sprintf("%s_class_%s", filePath, name)
}

// LinesID builds the stable id for a fixed line-window chunk.
func LinesID(filePath string, start, end int) string {
	return fmt.Sprintf("%s_lines_%d_%d", filePath, start, end)
}
