// Package webui embeds the bundled single-page application. The core
// serves these assets verbatim; they are produced by an external build
// pipeline and treated as opaque.
package webui

import "embed"

// StaticFS holds the embedded SPA assets.
//
//go:embed static/*
var StaticFS embed.FS

// Index returns the SPA HTML shell.
func Index() ([]byte, error) {
	return StaticFS.ReadFile("static/index.html")
}

// Bundle returns the SPA JavaScript bundle.
func Bundle() ([]byte, error) {
	return StaticFS.ReadFile("static/index.js")
}
