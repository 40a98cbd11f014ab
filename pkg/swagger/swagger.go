package swagger

import (
	"html/template"
	"io/fs"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// =============================================================================
// Swagger UI Integration
// =============================================================================
// Serves Swagger UI and the OpenAPI document it renders.
//
// Usage:
//
//	app.Use(swagger.Handler(swagger.Config{
//	    SpecFS:   api.Spec,
//	    SpecFile: "openapi.yaml",
//	    Title:    "uou Calendar Service",
//	}))
// =============================================================================

// Config holds Swagger UI configuration
type Config struct {
	// SpecFS holds the OpenAPI document
	SpecFS fs.FS

	// SpecFile is the document's path within SpecFS
	SpecFile string

	// Title shown in Swagger UI
	Title string

	// BasePath is the base path where Swagger UI is served
	BasePath string
}

var page = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
    <style>
        body { margin: 0; background: #fafafa; }
        .swagger-ui .topbar { display: none; }
    </style>
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            SwaggerUIBundle({
                url: "{{.SpecURL}}",
                dom_id: '#swagger-ui',
                deepLinking: true,
                persistAuthorization: true,
                displayRequestDuration: true
            });
        };
    </script>
</body>
</html>`))

// Handler returns a Fiber handler that serves Swagger UI at BasePath and the
// raw document at BasePath/<SpecFile>. Other paths fall through.
func Handler(config Config) fiber.Handler {
	if config.Title == "" {
		config.Title = "API Documentation"
	}
	if config.BasePath == "" {
		config.BasePath = "/docs"
	}
	config.BasePath = strings.TrimRight(config.BasePath, "/")
	specURL := config.BasePath + "/" + config.SpecFile

	return func(c *fiber.Ctx) error {
		switch c.Path() {
		case config.BasePath, config.BasePath + "/":
			c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
			return page.Execute(c.Response().BodyWriter(), map[string]string{
				"Title":   config.Title,
				"SpecURL": specURL,
			})
		case specURL:
			return serveSpec(c, config.SpecFS, config.SpecFile)
		default:
			return c.Next()
		}
	}
}

func serveSpec(c *fiber.Ctx, fsys fs.FS, path string) error {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return c.Status(fiber.StatusNotFound).SendString("Spec not found")
	}

	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		c.Set(fiber.HeaderContentType, "application/yaml")
	case strings.HasSuffix(path, ".json"):
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	return c.Send(data)
}
