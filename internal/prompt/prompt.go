// Package prompt renders the system and user messages sent to the
// completion model.
package prompt

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// Messages is a rendered system directive and user message.
type Messages struct {
	System string
	User   string
}

// Build renders the prompt for question. An empty contextBlock selects the
// general-knowledge directive and omits the context section.
func Build(contextBlock, question string, jsonReply bool) (Messages, error) {
	directive := "grounded.tmpl"
	if contextBlock == "" {
		directive = "general.tmpl"
	}

	system, err := render(directive, map[string]any{"JSON": jsonReply})
	if err != nil {
		return Messages{}, err
	}
	user, err := render("user.tmpl", map[string]any{"Context": contextBlock, "Question": question})
	if err != nil {
		return Messages{}, err
	}
	return Messages{System: strings.TrimSpace(system), User: strings.TrimSpace(user)}, nil
}

func render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := templates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return sb.String(), nil
}
