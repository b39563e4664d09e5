package settings

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON schema of a settings file. Keys outside the
// permissions section are not described and remain allowed.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	s := r.Reflect(&File{})
	s.Title = "Tool permission settings"
	s.Description = "Allow and deny rules for agent tool invocations"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling settings schema: %w", err)
	}
	return data, nil
}
