// pkg/tierfile/tierfile.go
package tierfile

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

var schemaLoader = gojsonschema.NewStringLoader(Schema)

// Validate checks data against Schema and returns every violation in one error.
func Validate(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("tier catalog validation failed: %v", errs)
	}

	return nil
}

// Decode validates data and unmarshals it into v. The header is returned separately.
func Decode(data []byte, v interface{}) (*Header, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode tier catalog: %w", err)
	}
	return &h, nil
}

// Load reads and decodes the document at path.
func Load(path string, v interface{}) (*Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data, v)
}
