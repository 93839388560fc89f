// Package tool decodes agent tool inputs into a closed set of variants.
package tool

import (
	"encoding/json"
	"fmt"
)

// Input is one decoded tool input. The variants are the types in this
// package; Other covers everything unrecognized, MCP tools included.
type Input interface {
	// Tool returns the tool name.
	Tool() string
	isInput()
}

// Bash runs a shell command.
type Bash struct {
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Timeout     int    `json:"timeout,omitempty"`
	Background  bool   `json:"run_in_background,omitempty"`
}

// Edit replaces text in a file.
type Edit struct {
	FilePath   string `json:"file_path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

// EditOp is one replacement of a MultiEdit.
type EditOp struct {
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

// MultiEdit applies several replacements to one file.
type MultiEdit struct {
	FilePath string   `json:"file_path"`
	Edits    []EditOp `json:"edits"`
}

// Write replaces a file's contents.
type Write struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// NotebookEdit edits a Jupyter notebook cell.
type NotebookEdit struct {
	NotebookPath string `json:"notebook_path"`
	CellID       string `json:"cell_id,omitempty"`
	NewSource    string `json:"new_source"`
	EditMode     string `json:"edit_mode,omitempty"`
}

// Read reads a file.
type Read struct {
	FilePath string `json:"file_path"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Glob lists files matching a pattern.
type Glob struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// Grep searches file contents.
type Grep struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Glob    string `json:"glob,omitempty"`
}

// LS lists a directory.
type LS struct {
	Path string `json:"path"`
}

// WebFetch fetches a URL.
type WebFetch struct {
	URL    string `json:"url"`
	Prompt string `json:"prompt,omitempty"`
}

// Other is any tool without a dedicated variant.
type Other struct {
	Name string
	Raw  json.RawMessage
}

func (Bash) Tool() string         { return "Bash" }
func (Edit) Tool() string         { return "Edit" }
func (MultiEdit) Tool() string    { return "MultiEdit" }
func (Write) Tool() string        { return "Write" }
func (NotebookEdit) Tool() string { return "NotebookEdit" }
func (Read) Tool() string         { return "Read" }
func (Glob) Tool() string         { return "Glob" }
func (Grep) Tool() string         { return "Grep" }
func (LS) Tool() string           { return "LS" }
func (WebFetch) Tool() string     { return "WebFetch" }
func (o Other) Tool() string      { return o.Name }

func (Bash) isInput()         {}
func (Edit) isInput()         {}
func (MultiEdit) isInput()    {}
func (Write) isInput()        {}
func (NotebookEdit) isInput() {}
func (Read) isInput()         {}
func (Glob) isInput()         {}
func (Grep) isInput()         {}
func (LS) isInput()           {}
func (WebFetch) isInput()     {}
func (Other) isInput()        {}

// Decode decodes raw as the input of the named tool.
func Decode(name string, raw json.RawMessage) (Input, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var in Input
	var err error
	switch name {
	case "Bash":
		in, err = decodeAs[Bash](raw)
	case "Edit":
		in, err = decodeAs[Edit](raw)
	case "MultiEdit":
		in, err = decodeAs[MultiEdit](raw)
	case "Write":
		in, err = decodeAs[Write](raw)
	case "NotebookEdit":
		in, err = decodeAs[NotebookEdit](raw)
	case "Read":
		in, err = decodeAs[Read](raw)
	case "Glob":
		in, err = decodeAs[Glob](raw)
	case "Grep":
		in, err = decodeAs[Grep](raw)
	case "LS":
		in, err = decodeAs[LS](raw)
	case "WebFetch":
		in, err = decodeAs[WebFetch](raw)
	default:
		return Other{Name: name, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s input: %w", name, err)
	}
	return in, nil
}

func decodeAs[T Input](raw json.RawMessage) (Input, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// otherPathKeys are the fields tried, in order, to find the path an
// unrecognized tool operates on.
var otherPathKeys = []string{"file_path", "notebook_path", "path"}

// Path returns the file path an input operates on. ok is false for inputs
// without one (Bash, WebFetch, Glob or Grep without a path).
func Path(in Input) (p string, ok bool) {
	switch v := in.(type) {
	case Edit:
		p = v.FilePath
	case MultiEdit:
		p = v.FilePath
	case Write:
		p = v.FilePath
	case NotebookEdit:
		p = v.NotebookPath
	case Read:
		p = v.FilePath
	case Glob:
		p = v.Path
	case Grep:
		p = v.Path
	case LS:
		p = v.Path
	case Other:
		var fields map[string]any
		if json.Unmarshal(v.Raw, &fields) != nil {
			return "", false
		}
		for _, k := range otherPathKeys {
			if s, isStr := fields[k].(string); isStr && s != "" {
				return s, true
			}
		}
	}
	return p, p != ""
}

// Command returns the shell command of a Bash input.
func Command(in Input) (string, bool) {
	b, ok := in.(Bash)
	return b.Command, ok
}
