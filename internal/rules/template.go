package rules

import (
	"context"
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/Iron-Ham/sxn/internal/errors"
	"github.com/Iron-Ham/sxn/internal/security"
)

// KindTemplate renders Liquid templates from the project into the session.
const KindTemplate = "template"

// TemplateConfig is the decoded config of a template rule.
type TemplateConfig struct {
	Templates []TemplateEntry `mapstructure:"templates"`
}

// TemplateEntry describes one rendered file.
type TemplateEntry struct {
	Source      string         `mapstructure:"source"`
	Destination string         `mapstructure:"destination"`
	Variables   map[string]any `mapstructure:"variables"`
	Overwrite   bool           `mapstructure:"overwrite"`
	Required    *bool          `mapstructure:"required"`
}

func (e *TemplateEntry) required() bool { return e.Required == nil || *e.Required }

// TemplateRule implements the template kind.
type TemplateRule struct {
	Base
	cfg TemplateConfig
}

// NewTemplateRule is the template Factory.
func NewTemplateRule(spec Spec, env *Env) (Rule, error) {
	base, err := NewBase(KindTemplate, spec, env)
	if err != nil {
		return nil, err
	}
	return &TemplateRule{Base: base}, nil
}

// Validate checks the templates list.
func (r *TemplateRule) Validate() error {
	return r.RunValidate(r.validateConfig)
}

func (r *TemplateRule) validateConfig() error {
	var cfg TemplateConfig
	if err := decodeConfig(r.config, &cfg); err != nil {
		return r.invalid("config", nil, err.Error())
	}
	if len(cfg.Templates) == 0 {
		return r.invalid("templates", nil, "at least one template is required")
	}
	for i, e := range cfg.Templates {
		field := fmt.Sprintf("templates[%d]", i)
		if e.Source == "" {
			return r.invalid(field+".source", nil, "source is required")
		}
		if e.Destination == "" {
			return r.invalid(field+".destination", nil, "destination is required")
		}
		if strings.ContainsRune(e.Source, '\x00') || strings.ContainsRune(e.Destination, '\x00') {
			return r.invalid(field, nil, "paths must not contain null bytes")
		}
	}
	if r.env.Security == nil {
		return r.invalid("security", nil, "no security collaborator configured")
	}
	if r.env.Renderer == nil {
		return r.invalid("renderer", nil, "no template renderer configured")
	}

	r.cfg = cfg
	return nil
}

// Apply renders each template in order.
func (r *TemplateRule) Apply(ctx context.Context) error {
	return r.RunApply(ctx, r.apply)
}

func (r *TemplateRule) apply(ctx context.Context) error {
	for i := range r.cfg.Templates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.render(&r.cfg.Templates[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *TemplateRule) render(e *TemplateEntry) error {
	src, dst, err := r.env.Security.ValidateFileOperation(e.Source, e.Destination)
	if err != nil {
		if !e.required() && errors.Is(err, errors.ErrPathNotFound) {
			r.log.Info("optional template not found, skipping", "source", e.Source)
			return nil
		}
		return err
	}

	source, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read template %s: %w", e.Source, err)
	}

	vars := maps.Clone(r.env.Variables)
	if vars == nil {
		vars = make(map[string]any)
	}
	maps.Copy(vars, e.Variables)

	out, err := r.env.Renderer.Render(string(source), vars)
	if err != nil {
		return fmt.Errorf("render %s: %w", e.Source, err)
	}

	_, statErr := os.Lstat(dst)
	exists := statErr == nil
	if exists && !e.Overwrite {
		return fmt.Errorf("destination %s exists and overwrite is false", e.Destination)
	}

	if err := ensureParents(&r.Base, dst); err != nil {
		return err
	}

	if exists {
		backup := security.BackupPath(dst)
		if err := os.Rename(dst, backup); err != nil {
			return fmt.Errorf("back up %s: %w", dst, err)
		}
		r.Record(ChangeFileModified, dst, map[string]any{MetaBackupPath: backup, "source": src})
	}

	if err := os.WriteFile(dst, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if !exists {
		r.Record(ChangeFileCreated, dst, map[string]any{"source": src})
	}
	r.log.Debug("rendered template", "source", src, "dest", dst)
	return nil
}
