// Package webassets embeds the placeholder dashboard page, served through
// its index.html entry point.
package webassets

import "embed"

//go:embed index.html
var FS embed.FS
