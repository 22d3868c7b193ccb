package executors

import (
	"bytes"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lemniscat/lemniscat/pkg/variables"
)

// Output line prefixes that publish variables.
const (
	PushVarPrefix       = "[lemniscat.pushvar]"
	PushSecretVarPrefix = "[lemniscat.pushvar.secret]"
)

// pushvarWriter splits a command's stdout into lines, logs them and
// collects pushvar declarations.
type pushvarWriter struct {
	logger zerolog.Logger

	mu   sync.Mutex
	buf  bytes.Buffer
	vars map[string]any
}

func newPushvarWriter(logger zerolog.Logger) *pushvarWriter {
	return &pushvarWriter{logger: logger, vars: make(map[string]any)}
}

func (w *pushvarWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			return len(p), nil
		}
		w.line(strings.TrimRight(line, "\r\n"))
	}
}

// Flush handles a trailing line without newline.
func (w *pushvarWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.line(strings.TrimRight(w.buf.String(), "\r\n"))
		w.buf.Reset()
	}
}

// Variables returns the collected variables.
func (w *pushvarWriter) Variables() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vars
}

func (w *pushvarWriter) line(line string) {
	name, value, sensitive, ok := parsePushvar(line)
	if !ok {
		w.logger.Info().Msg(line)
		return
	}
	if sensitive {
		w.vars[name] = variables.NewSecret(value)
		w.logger.Debug().Str("variable", name).Msg("Pushed sensitive variable")
		return
	}
	w.vars[name] = value
	w.logger.Debug().Str("variable", name).Str("value", value).Msg("Pushed variable")
}

// parsePushvar recognises "[lemniscat.pushvar] name=value" and its secret
// variant. Whitespace around the name is ignored; the value is kept as is.
func parsePushvar(line string) (name, value string, sensitive, ok bool) {
	trimmed := strings.TrimSpace(line)

	var rest string
	switch {
	case strings.HasPrefix(trimmed, PushSecretVarPrefix):
		rest, sensitive = trimmed[len(PushSecretVarPrefix):], true
	case strings.HasPrefix(trimmed, PushVarPrefix):
		rest = trimmed[len(PushVarPrefix):]
	default:
		return "", "", false, false
	}

	name, value, found := strings.Cut(rest, "=")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return "", "", false, false
	}
	return name, value, sensitive, true
}
