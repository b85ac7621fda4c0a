// Package static holds assets served by the API server, such as the
// default group avatar.
package static

import "embed"

//go:embed group-avatar.png
var Content embed.FS
