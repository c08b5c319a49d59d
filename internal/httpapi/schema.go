package httpapi

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Webhook payloads are validated against a schema before any handler
// parses them, so shape violations surface as one error class instead
// of zero values deep inside a tracker.

const orderSchemaJSON = `{
	"type": "object",
	"required": ["event", "order"],
	"properties": {
		"event": {"type": "string", "minLength": 1},
		"order": {
			"type": "object",
			"required": ["orderId"],
			"properties": {
				"orderId": {"type": "string", "minLength": 1},
				"totalAmount": {"type": "number", "minimum": 0},
				"items": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["productId"],
						"properties": {
							"productId": {"type": "string", "minLength": 1},
							"quantity": {"type": "integer", "minimum": 0},
							"price": {"type": "number", "minimum": 0}
						}
					}
				}
			}
		}
	}
}`

const paymentSchemaJSON = `{
	"type": "object",
	"required": ["event", "orderId"],
	"properties": {
		"event": {"type": "string", "minLength": 1},
		"orderId": {"type": "string", "minLength": 1},
		"amount": {"type": "number", "minimum": 0}
	}
}`

const shippingSchemaJSON = `{
	"type": "object",
	"required": ["event", "orderId"],
	"properties": {
		"event": {"type": "string", "minLength": 1},
		"orderId": {"type": "string", "minLength": 1}
	}
}`

const supportSchemaJSON = `{
	"type": "object",
	"required": ["action", "ticket"],
	"properties": {
		"action": {"type": "string", "minLength": 1},
		"ticket": {
			"type": "object",
			"properties": {
				"score": {"type": "integer", "minimum": 0, "maximum": 5}
			}
		}
	}
}`

const inventorySchemaJSON = `{
	"type": "object",
	"required": ["action"],
	"properties": {
		"action": {"type": "string", "minLength": 1}
	}
}`

const strapiSchemaJSON = `{
	"type": "object",
	"required": ["event", "entry"],
	"properties": {
		"event": {"type": "string", "minLength": 1},
		"model": {"type": "string"},
		"entry": {"type": "object"}
	}
}`

const userSchemaJSON = `{
	"type": "object",
	"required": ["type", "userId", "sessionId"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"userId": {"type": "string", "minLength": 1},
		"sessionId": {"type": "string", "minLength": 1},
		"value": {"type": "number", "minimum": 0}
	}
}`

type payloadSchemas struct {
	order     *jsonschema.Schema
	payment   *jsonschema.Schema
	shipping  *jsonschema.Schema
	support   *jsonschema.Schema
	inventory *jsonschema.Schema
	strapi    *jsonschema.Schema
	user      *jsonschema.Schema
}

func compileSchemas() (*payloadSchemas, error) {
	compiler := jsonschema.NewCompiler()
	sources := map[string]string{
		"order.json":     orderSchemaJSON,
		"payment.json":   paymentSchemaJSON,
		"shipping.json":  shippingSchemaJSON,
		"support.json":   supportSchemaJSON,
		"inventory.json": inventorySchemaJSON,
		"strapi.json":    strapiSchemaJSON,
		"user.json":      userSchemaJSON,
	}
	compiled := map[string]*jsonschema.Schema{}
	for name, src := range sources {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(src)))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		compiled[name] = schema
	}
	return &payloadSchemas{
		order:     compiled["order.json"],
		payment:   compiled["payment.json"],
		shipping:  compiled["shipping.json"],
		support:   compiled["support.json"],
		inventory: compiled["inventory.json"],
		strapi:    compiled["strapi.json"],
		user:      compiled["user.json"],
	}, nil
}

// validatePayload checks the raw body against a schema. The body must
// already be known to be well-formed JSON.
func validatePayload(schema *jsonschema.Schema, body []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}
