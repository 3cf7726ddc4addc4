package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepflow/pkg/config"
	"github.com/ormasoftchile/stepflow/pkg/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Schema operations",
}

var schemaExportKind string

var schemaExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a JSON Schema to stdout",
	RunE:  runSchemaExport,
}

func runSchemaExport(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	switch schemaExportKind {
	case "flow":
		data, err = schema.GenerateFlowJSONSchema()
	case "module":
		data, err = schema.GenerateModuleJSONSchema()
	case "config":
		data, err = config.GenerateJSONSchema()
	default:
		return fmt.Errorf("unknown schema kind %q: use flow, module, or config", schemaExportKind)
	}
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	var out json.RawMessage = data
	formatted, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(string(formatted))
	return nil
}

func init() {
	schemaExportCmd.Flags().StringVar(&schemaExportKind, "kind", "flow", "Schema to export: flow, module, or config")
	schemaCmd.AddCommand(schemaExportCmd)
}
