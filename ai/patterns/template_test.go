package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveTemplate_Query(t *testing.T) {
	tmpl := DeriveTemplate("How do I open   /etc/nixos/configuration.nix at line 42?", "")

	assert.Equal(t, "Query: How do I open {path} at line {n}?", tmpl.Text)
	assert.Equal(t, "How do I open {path} at line {n}?", tmpl.Description)
}

func TestDeriveTemplate_ResponseStructure(t *testing.T) {
	response := "## Steps\n\n" +
		"1. Edit `/etc/nixos/configuration.nix`\n" +
		"2. Run nixos-rebuild switch\n\n" +
		"```nix\nservices.nginx.enable = true;\n```\n\n" +
		"See https://nixos.org/manual for version 24.05.\n"

	tmpl := DeriveTemplate("How do I enable nginx?", response)

	assert.Contains(t, tmpl.Text, "Answer:\n## Steps")
	assert.Contains(t, tmpl.Text, "1. Edit {value}\n2. Run nixos-rebuild switch")
	assert.Contains(t, tmpl.Text, "```nix\n{code}\n```")
	assert.Contains(t, tmpl.Text, "See {url} for version {version}.")
	assert.NotContains(t, tmpl.Text, "services.nginx")
	assert.NotContains(t, tmpl.Text, "configuration.nix")
}

func TestDeriveTemplate_Deterministic(t *testing.T) {
	q := "why does build 1234 fail with 'missing attribute'?"
	r := "- check the attribute\n- rerun with --show-trace\n"
	assert.Equal(t, DeriveTemplate(q, r), DeriveTemplate(q, r))
}

func TestDeriveTemplate_UnorderedAndIndentedCode(t *testing.T) {
	response := "Intro.\n\n    indented code\n\n- first\n- second\n"
	tmpl := DeriveTemplate("q", response)

	assert.Contains(t, tmpl.Text, "- first\n- second")
	assert.Contains(t, tmpl.Text, "```\n{code}\n```")
	assert.NotContains(t, tmpl.Text, "indented code")
}
