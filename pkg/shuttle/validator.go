// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shuttle

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError reports schema violations with their field paths.
type ValidationError struct {
	Tool   string
	Fields []string // "field: message" per violation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Fields, "; "))
}

// ValidateArguments validates tool arguments against the tool's input
// schema. A tool without a schema accepts anything.
func ValidateArguments(tool Tool, arguments map[string]interface{}) error {
	schema := tool.InputSchema()
	if schema == nil {
		return nil
	}

	raw, err := schema.ToJSON()
	if err != nil {
		return fmt.Errorf("schema for %s is not serializable: %w", tool.Name(), err)
	}

	if arguments == nil {
		arguments = map[string]interface{}{}
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(raw),
		gojsonschema.NewGoLoader(arguments),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", tool.Name(), err)
	}

	if !result.Valid() {
		fields := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			fields = append(fields, fmt.Sprintf("%s: %s", verr.Field(), verr.Description()))
		}
		return &ValidationError{Tool: tool.Name(), Fields: fields}
	}
	return nil
}
