// Package output renders command results as text, JSON or YAML.
// JSON and YAML go to stdout with snake_case keys; text is meant for people.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Format represents the output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a --output value. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unsupported output format %q (use text, json or yaml)", s)
}

// Texter is implemented by results with a custom text rendering.
type Texter interface {
	Text(s *Styles) string
}

// Writer handles formatted output.
type Writer struct {
	format Format
	out    io.Writer
	errOut io.Writer
	styles *Styles
}

// Option configures the Writer.
type Option func(*Writer)

// WithOutput sets the standard output writer.
func WithOutput(w io.Writer) Option {
	return func(wr *Writer) {
		wr.out = w
	}
}

// WithErrorOutput sets the error output writer.
func WithErrorOutput(w io.Writer) Option {
	return func(wr *Writer) {
		wr.errOut = w
	}
}

// WithColor forces colored text on or off. By default color is used when
// stdout is a terminal.
func WithColor(on bool) Option {
	return func(wr *Writer) {
		wr.styles = NewStyles(on)
	}
}

// New creates a new output writer.
func New(format Format, opts ...Option) *Writer {
	w := &Writer{
		format: format,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.styles == nil {
		w.styles = NewStyles(IsTerminal(w.out))
	}
	return w
}

// Format returns the configured format.
func (w *Writer) Format() Format { return w.format }

// Styles returns the text styles.
func (w *Writer) Styles() *Styles { return w.styles }

// Out returns the standard output writer.
func (w *Writer) Out() io.Writer { return w.out }

// Write outputs data in the configured format.
func (w *Writer) Write(data any) error {
	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(w.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		normalized, err := normalizeForYAML(data)
		if err != nil {
			return err
		}
		b, err := yaml.Marshal(normalized)
		if err != nil {
			return err
		}
		if len(b) == 0 || b[len(b)-1] != '\n' {
			b = append(b, '\n')
		}
		_, err = w.out.Write(b)
		return err
	case FormatText:
		text := w.text(data)
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		_, err := io.WriteString(w.out, text)
		return err
	default:
		return fmt.Errorf("unsupported format: %s", w.format)
	}
}

func (w *Writer) text(data any) string {
	switch v := data.(type) {
	case Texter:
		return v.Text(w.styles)
	case string:
		return v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", w.styles.Key.Render(k), v[k])
		}
		return b.String()
	}
	return fmt.Sprintf("%v", data)
}

// WriteNDJSON outputs data as one JSON document per line in JSON mode.
func (w *Writer) WriteNDJSON(data any) error {
	switch w.format {
	case FormatJSON:
		return json.NewEncoder(w.out).Encode(data)
	case FormatText:
		_, err := fmt.Fprintln(w.out, w.text(data))
		return err
	default:
		return fmt.Errorf("unsupported format: %s", w.format)
	}
}

// Success outputs a success message.
func (w *Writer) Success(msg string) {
	if w.format == FormatJSON || w.format == FormatYAML {
		_ = w.Write(map[string]any{"status": "success", "message": msg})
	} else {
		fmt.Fprintf(w.errOut, "%s %s\n", w.styles.Allow.Render("✓"), msg)
	}
}

// ErrorPayload is the structured form of an error.
type ErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Error outputs an error message. Structured formats write to stdout so
// callers parsing the output see it; text goes to stderr.
func (w *Writer) Error(err error) {
	payload := ErrorPayload{Error: "error", Message: err.Error(), Code: 1}
	switch w.format {
	case FormatJSON, FormatYAML:
		_ = w.Write(payload)
	default:
		fmt.Fprintf(w.errOut, "%s %s\n", w.styles.Deny.Render("✗"), err.Error())
	}
}

func normalizeForYAML(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return nil, err
	}
	return convertNumbers(normalized), nil
}

// convertNumbers turns json.Number into int64 or float64 so YAML renders
// plain scalars.
func convertNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = convertNumbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = convertNumbers(e)
		}
	}
	return v
}
