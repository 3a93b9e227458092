// Package params validates per-operation guest parameters against JSON
// schemas. Schemas are registered under an explicit (component, action) key
// and looked up before dispatch; there is no coupling to function identity.
package params

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Key addresses one registered schema.
type Key struct {
	Component string
	Action    string
}

// startSchema is shared by every backend: optional capacity settings plus an
// optional network boot section.
const startSchema = `{
	"type": "object",
	"properties": {
		"cpus": {"type": "integer", "minimum": 1},
		"memory_mib": {"type": "integer", "minimum": 64},
		"boot_device": {"type": "string"},
		"netboot": {
			"type": "object",
			"properties": {
				"kernel_uri": {"type": "string"},
				"initrd_uri": {"type": "string"},
				"cmdline": {"type": "string"}
			},
			"required": ["kernel_uri"],
			"additionalProperties": false
		}
	},
	"additionalProperties": false
}`

// zvmLoginSchema covers the logon modifiers of the console lifecycle.
const zvmLoginSchema = `{
	"type": "object",
	"properties": {
		"by_user": {"type": "string"},
		"here": {"type": "boolean"},
		"noipl": {"type": "boolean"}
	},
	"additionalProperties": false
}`

var schemas = map[Key]string{
	{Component: "zvm", Action: "start"}: startSchema,
	{Component: "hmc", Action: "start"}: startSchema,
	{Component: "kvm", Action: "start"}: startSchema,
	{Component: "zvm", Action: "login"}: zvmLoginSchema,
}

// Validate checks payload against the schema registered for (component,
// action). A missing schema is an error: operations taking parameters must
// declare them.
func Validate(component, action string, payload map[string]interface{}) error {
	schema, ok := schemas[Key{Component: component, Action: action}]
	if !ok {
		return fmt.Errorf("no parameter schema registered for %s/%s", component, action)
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewGoLoader(payload),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed for %s/%s: %w", component, action, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return fmt.Errorf("invalid parameters for %s/%s: %s", component, action, strings.Join(details, "; "))
	}
	return nil
}
