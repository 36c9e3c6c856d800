// Package configs embeds the configuration template written by
// `pagesearch config init`.
package configs

import _ "embed"

// UserConfigTemplate is the commented user configuration, created at
// ~/.config/pagesearch/config.yaml. Its values match the built-in defaults.
//
//go:embed config.example.yaml
var UserConfigTemplate string
