package pipeline

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/internal/prompts"
)

// conform validates a structured stage record against the stage schema and
// returns one message per violation. Degraded outcomes and stages without
// a schema yield nil.
func conform(stage int, outcome model.ParseOutcome) []string {
	s, ok := outcome.(model.Structured)
	if !ok {
		return nil
	}
	schema := prompts.Schema(stage)
	if schema == "" {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(s.Record),
	)
	if err != nil {
		return []string{fmt.Sprintf("schema: %v", err)}
	}
	if result.Valid() {
		return nil
	}

	out := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		out = append(out, fmt.Sprintf("%s: %s", field, desc.Description()))
	}
	return out
}
