package extractor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractObjectRecoversEmbeddedObject(t *testing.T) {
	objects := []map[string]any{
		{"sentiment": "positive", "summary": "A family reunited after the quake."},
		{"nested": map[string]any{"a": []any{1.0, "two", nil}}, "ok": true},
		{},
	}
	noise := []struct{ before, after string }{
		{"noise", "more noise"},
		{"Here is the JSON:\n```json\n", "\n```"},
		{"   \n\t", "  "},
		{"", ""},
	}

	for _, obj := range objects {
		payload, err := json.Marshal(obj)
		require.NoError(t, err)
		for _, n := range noise {
			got, err := ExtractObject(n.before + string(payload) + n.after)
			require.NoError(t, err)
			assert.Equal(t, obj, got)
		}
	}
}

func TestExtractObjectNoBraces(t *testing.T) {
	_, err := ExtractObject("the model just talked")
	assert.ErrorIs(t, err, ErrNoJSONFound)

	_, err = ExtractObject("")
	assert.ErrorIs(t, err, ErrNoJSONFound)

}

func TestExtractObjectLoneBrace(t *testing.T) {
	for _, raw := range []string{
		`{"sentiment": "positive"`,
		`"sentiment": "positive"}`,
		"} backwards {",
	} {
		_, err := ExtractObject(raw)
		assert.ErrorIs(t, err, ErrMalformedOutput, raw)
		assert.NotErrorIs(t, err, ErrNoJSONFound, raw)
	}
}

func TestExtractObjectMalformed(t *testing.T) {
	_, err := ExtractObject("{bad json}")
	assert.ErrorIs(t, err, ErrMalformedOutput)
	assert.NotErrorIs(t, err, ErrNoJSONFound)

	// Two objects: first '{' to last '}' is not one valid value.
	_, err = ExtractObject(`{"a":1} and {"b":2}`)
	assert.ErrorIs(t, err, ErrMalformedOutput)

	// Unbalanced interior is not repaired.
	_, err = ExtractObject(`{"a": {"b": 1}`)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestDecodeIntoStruct(t *testing.T) {
	var out struct {
		Sentiment string `json:"sentiment"`
	}
	require.NoError(t, Decode("Response: {\"sentiment\": \"neutral\"} done", &out))
	assert.Equal(t, "neutral", out.Sentiment)
}

func TestChoiceContent(t *testing.T) {
	content, err := ChoiceContent([]byte(`{"choices":[{"message":{"content":"I'm so sorry you went through that."}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "I'm so sorry you went through that.", content)

	_, err = ChoiceContent([]byte(`{"choices":[]}`))
	assert.ErrorIs(t, err, ErrNoChoices)

	_, err = ChoiceContent([]byte(`<html>bad gateway</html>`))
	assert.ErrorIs(t, err, ErrMalformedOutput)
}
