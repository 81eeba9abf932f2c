// Package prompt assembles the texts sent to backend models. Templates are
// compiled into the binary so a deployment cannot drift from the prompts it
// was tested with.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	classifierTemplate = "intent_classifier.tmpl"
	auditTemplate      = "audit_master.tmpl"
)

// Assembler renders the classification and audit prompts.
type Assembler struct {
	templates *template.Template
}

// NewAssembler parses the embedded templates. Fails only on a build defect,
// never on runtime input.
func NewAssembler() (*Assembler, error) {
	templates, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates: %w", err)
	}
	return &Assembler{templates: templates}, nil
}

// ClassificationPrompt renders the intent classifier prompt around the raw
// user text.
func (a *Assembler) ClassificationPrompt(userText string) (string, error) {
	return a.render(classifierTemplate, struct {
		UserText string
	}{UserText: userText})
}

// AuditPrompt renders the compliance audit prompt for the routed model.
func (a *Assembler) AuditPrompt(department, userText string) (string, error) {
	return a.render(auditTemplate, struct {
		Department string
		UserText   string
	}{Department: department, UserText: userText})
}

func (a *Assembler) render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := a.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}
