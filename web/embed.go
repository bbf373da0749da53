// Package web embeds the album page served at /.
package web

import "embed"

// FS holds the embedded web directory contents.
//
//go:embed index.html
var FS embed.FS
