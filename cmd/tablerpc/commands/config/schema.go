package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/tablerpc/pkg/config"
	"github.com/spf13/cobra"
)

var (
	schemaOutput  string
	schemaSection string
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the catalog server config as JSON schema",
	Long: `Print the JSON schema of the catalog server's config file. Point an
editor's YAML language server at it to check server, catalog and
authentication settings while editing.

--section limits the output to one top-level key.

Examples:
  tablerpc config schema > tablerpc.schema.json
  tablerpc config schema --section authentication
  tablerpc config schema -o tablerpc.schema.json`,
	Args: cobra.NoArgs,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "Write the schema to this file instead of stdout")
	schemaCmd.Flags().StringVar(&schemaSection, "section", "", "Only emit the schema of this top-level key")
}

// Schema reflects the configuration struct into a JSON schema.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "yaml",
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "tablerpc Configuration"
	schema.Description = "Configuration schema for the tablerpc server"
	return schema
}

// sectionSchema returns the schema of one top-level config key.
func sectionSchema(root *jsonschema.Schema, name string) (*jsonschema.Schema, error) {
	if sub, ok := root.Properties.Get(name); ok {
		return sub, nil
	}
	var known []string
	for pair := root.Properties.Oldest(); pair != nil; pair = pair.Next() {
		known = append(known, pair.Key)
	}
	return nil, fmt.Errorf("unknown config section %q (known: %s)", name, strings.Join(known, ", "))
}

func runSchema(cmd *cobra.Command, args []string) error {
	schema := Schema()
	if schemaSection != "" {
		sub, err := sectionSchema(schema, schemaSection)
		if err != nil {
			return err
		}
		schema = sub
	}

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if schemaOutput != "" {
		if err := os.WriteFile(schemaOutput, data, 0644); err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote config schema to %s\n", schemaOutput)
		return nil
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
