// Package template renders Liquid templates for the template rule.
package template

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/osteele/liquid"
)

// Renderer renders Liquid source against a set of variables. It is safe for
// concurrent use.
type Renderer struct {
	engine *liquid.Engine
}

// New returns a Renderer with the standard Liquid filters plus basename,
// dirname and shell_quote.
func New() *Renderer {
	engine := liquid.NewEngine()
	engine.RegisterFilter("basename", filepath.Base)
	engine.RegisterFilter("dirname", filepath.Dir)
	engine.RegisterFilter("shell_quote", shellQuote)
	return &Renderer{engine: engine}
}

// Render parses and renders source. Unknown variables render as empty.
func (r *Renderer) Render(source string, vars map[string]any) (string, error) {
	out, err := r.engine.ParseAndRenderString(source, liquid.Bindings(vars))
	if err != nil {
		return "", fmt.Errorf("liquid: %w", err)
	}
	return out, nil
}

// shellQuote wraps s in single quotes for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
