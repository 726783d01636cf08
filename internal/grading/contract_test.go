package grading

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"
)

func TestGradingResultContract(t *testing.T) {
	schemaPath, err := filepath.Abs(filepath.Join("testdata", "grading_result.schema.json"))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)

	sections := decodeSections(t, readingSections)
	answers := decodeSectionAnswers(t, `[{"section_id":"s1","answers":[
		{"question_id":"q1","answer":{"choice":"a"}},
		{"question_id":"q3","answer":{"text":"delta"}}
	]}]`)

	body, err := json.Marshal(Grade(sections, answers))
	require.NoError(t, err)

	var payload interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.NoError(t, schema.Validate(payload))
}
