// Package api holds the calendar service's OpenAPI document.
package api

import "embed"

// SpecFile is the document's path within Spec.
const SpecFile = "openapi.yaml"

//go:embed openapi.yaml
var Spec embed.FS
