// Package template renders the mails sent by process steps.
package template

import (
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"
)

var ErrUnknownTemplate = errors.New("unknown mail template")

// Mail is a rendered mail.
type Mail struct {
	Subject string
	Body    string
}

// Data is exposed to templates as the dot value.
type Data struct {
	ExternalID string
	Values     map[string]string
}

type mailTemplate struct {
	subject *template.Template
	body    *template.Template
}

// Catalog holds named mail templates.
type Catalog struct {
	templates map[string]mailTemplate
	now       func() time.Time
}

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// NewCatalog creates an empty catalog. now feeds the "now" template function.
func NewCatalog(now func() time.Time) *Catalog {
	if now == nil {
		now = time.Now
	}

	return &Catalog{templates: make(map[string]mailTemplate), now: now}
}

// DefaultCatalog contains the invitation and notification mails.
func DefaultCatalog() *Catalog {
	catalog := NewCatalog(nil)

	catalog.MustAdd("invitation",
		"You are invited to join {{ .ExternalID }}",
		"Hello,\n\nyou were invited to {{ .ExternalID }} on {{ now }}.\n{{ with .Values.user_id }}Your user id is {{ . }}.\n{{ end }}",
	)
	catalog.MustAdd("notification",
		"Update for {{ .ExternalID }}",
		"Hello,\n\nthere is news regarding {{ .ExternalID }}.\n",
	)

	return catalog
}

// Add parses and registers a template, replacing one of the same name.
func (c *Catalog) Add(name, subject, body string) error {
	helpers := template.FuncMap{
		"now": func() string {
			return c.now().UTC().Format(time.RFC3339)
		},
	}

	subjectTemplate, err := template.New(name + ".subject").Funcs(funcs).Funcs(helpers).Parse(subject)
	if err != nil {
		return fmt.Errorf("failed to parse subject of template '%s': %w", name, err)
	}

	bodyTemplate, err := template.New(name + ".body").Funcs(funcs).Funcs(helpers).Parse(body)
	if err != nil {
		return fmt.Errorf("failed to parse body of template '%s': %w", name, err)
	}

	c.templates[name] = mailTemplate{subject: subjectTemplate, body: bodyTemplate}

	return nil
}

// MustAdd is Add for templates known at compile time.
func (c *Catalog) MustAdd(name, subject, body string) {
	err := c.Add(name, subject, body)
	if err != nil {
		panic(err)
	}
}

// Render executes the named template with data.
func (c *Catalog) Render(name string, data Data) (Mail, error) {
	tmpl, ok := c.templates[name]
	if !ok {
		return Mail{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	subject, err := execute(tmpl.subject, data)
	if err != nil {
		return Mail{}, err
	}

	body, err := execute(tmpl.body, data)
	if err != nil {
		return Mail{}, err
	}

	return Mail{Subject: strings.TrimSpace(subject), Body: body}, nil
}

func execute(tmpl *template.Template, data Data) (string, error) {
	var buf strings.Builder

	err := tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", tmpl.Name(), err)
	}

	return buf.String(), nil
}
