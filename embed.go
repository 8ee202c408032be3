package tripalchat

import "embed"

// TemplateFS contains the embedded HTML templates used to render the transcript. They are organized in a
// directory structure that separates the layout, the page and the per-message partials.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the script and stylesheet of the browser preview.
//
//go:embed static/*
var StaticFS embed.FS
