// Schema Generator
//
// Generates JSON Schema files from Go types so API clients in other
// languages can validate requests and results against the same shapes.
// Go is the source of truth for the wire types.
//
// Usage:
//
//	go run cmd/schema-gen/main.go
//
// Output:
//
//	schemas/tasks.json
//	schemas/batch.json
//	schemas/webhooks.json
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/nlpgrid/nlp-service/internal/database"
	"github.com/nlpgrid/nlp-service/internal/handlers"
	"github.com/nlpgrid/nlp-service/internal/nlp"
)

// SchemaGroup represents a group of related schemas
type SchemaGroup struct {
	Name   string
	Types  []any
	Output string
}

func main() {
	outputDir := "schemas"

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
		os.Exit(1)
	}

	groups := []SchemaGroup{
		{
			Name: "tasks",
			Types: []any{
				// Request types
				handlers.TaskRequest{},
				nlp.ClassificationParams{},
				nlp.EntityExtractionParams{},
				nlp.SummarizationParams{},
				nlp.SentimentParams{},
				// Response types
				database.Task{},
				nlp.ClassificationResult{},
				nlp.EntityExtractionResult{},
				nlp.SummarizationResult{},
				nlp.SentimentResult{},
			},
			Output: "tasks.json",
		},
		{
			Name: "batch",
			Types: []any{
				handlers.BatchTaskItem{},
				handlers.BatchRequest{},
				database.BatchJob{},
			},
			Output: "batch.json",
		},
		{
			Name: "webhooks",
			Types: []any{
				handlers.CreateWebhookRequest{},
				database.Webhook{},
			},
			Output: "webhooks.json",
		},
	}

	for _, group := range groups {
		schema := generateGroupSchema(group)
		outputPath := filepath.Join(outputDir, group.Output)

		if err := writeSchema(schema, outputPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", group.Output, err)
			os.Exit(1)
		}

		fmt.Printf("Generated %s\n", outputPath)
	}

	fmt.Println("Schema generation complete!")
}

// generateGroupSchema creates a combined schema with all types in a group
func generateGroupSchema(group SchemaGroup) map[string]any {
	reflector := &jsonschema.Reflector{
		DoNotReference: false,
		ExpandedStruct: false,
	}

	definitions := make(map[string]any)

	for _, t := range group.Types {
		schema := reflector.Reflect(t)

		typeName := ""
		if schema.Ref != "" {
			// Extract type name from $ref like "#/$defs/TaskRequest"
			typeName = filepath.Base(schema.Ref)
		}

		for name, def := range schema.Definitions {
			definitions[name] = def
		}

		if typeName != "" && schema.Definitions[typeName] != nil {
			definitions[typeName] = schema.Definitions[typeName]
		}
	}

	return map[string]any{
		"$schema":     "https://json-schema.org/draft/2020-12/schema",
		"$id":         fmt.Sprintf("https://nlpgrid.io/schemas/%s.json", group.Name),
		"title":       fmt.Sprintf("%s API Types", capitalize(group.Name)),
		"description": fmt.Sprintf("JSON Schema for %s API types generated from Go structs", group.Name),
		"$defs":       definitions,
	}
}

// writeSchema writes a schema to a JSON file
func writeSchema(schema map[string]any, path string) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

func capitalize(s string) string {
	if len(s) == 0 {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
