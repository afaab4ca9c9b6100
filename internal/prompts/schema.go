package prompts

import (
	"embed"
	"fmt"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema returns the JSON schema for a stage's output, or "" for an
// unknown stage.
func Schema(stage int) string {
	b, err := schemaFS.ReadFile(fmt.Sprintf("schemas/step%d.json", stage))
	if err != nil {
		return ""
	}
	return string(b)
}
