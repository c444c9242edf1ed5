package gate

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// envelopeSchema is the JSON Schema for the decoded X-PAYMENT envelope.
// Validation runs before the typed unmarshal so that a structurally wrong
// envelope is rejected as malformed input (a 400-class failure) rather than
// producing a misleading payment-verification error.
const envelopeSchema = `{
  "type": "object",
  "required": ["x402Version", "scheme", "network", "payload"],
  "properties": {
    "x402Version": {"type": "integer", "enum": [1]},
    "scheme": {"type": "string"},
    "network": {"type": "string", "minLength": 1},
    "payload": {
      "type": "object",
      "required": ["signature", "authorization"],
      "properties": {
        "signature": {"type": "string", "pattern": "^0x[0-9a-fA-F]+$"},
        "authorization": {
          "type": "object",
          "required": ["from", "to", "value", "validAfter", "validBefore", "nonce"],
          "properties": {
            "from": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
            "to": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
            "value": {"type": "string", "pattern": "^[0-9]+$"},
            "validAfter": {"type": "string", "pattern": "^[0-9]+$"},
            "validBefore": {"type": "string", "pattern": "^[0-9]+$"},
            "nonce": {"type": "string", "pattern": "^0x[0-9a-fA-F]{64}$"}
          }
        }
      }
    }
  }
}`

var compiledEnvelopeSchema = gojsonschema.NewStringLoader(envelopeSchema)

// validateEnvelopeJSON checks decoded envelope bytes against the schema.
func validateEnvelopeJSON(data []byte) error {
	result, err := gojsonschema.Validate(compiledEnvelopeSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("envelope is not valid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("envelope does not match schema: %s", strings.Join(problems, "; "))
}
