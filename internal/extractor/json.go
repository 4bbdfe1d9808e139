// Package extractor recovers JSON objects from free-form model completions.
//
// The slice taken is everything from the first '{' to the last '}'. Noise
// around the object (prose, code fences, whitespace) is tolerated; the
// interior must be valid JSON. No bracket repair is attempted.
package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoJSONFound means the text contains neither '{' nor '}'.
	ErrNoJSONFound = errors.New("no JSON object found in model output")
	// ErrMalformedOutput means a brace was found but no object parses.
	ErrMalformedOutput = errors.New("malformed JSON in model output")
	// ErrNoChoices means a chat-completion body carried no choices.
	ErrNoChoices = errors.New("chat completion returned no choices")
)

// Span returns the substring from the first '{' to the last '}' inclusive.
// A lone brace, or a '}' before the first '{', is malformed output.
func Span(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	switch {
	case start == -1 && end == -1:
		return "", ErrNoJSONFound
	case start == -1 || end == -1 || end < start:
		return "", fmt.Errorf("%w: unbalanced braces", ErrMalformedOutput)
	}
	return raw[start : end+1], nil
}

// Decode extracts the outermost object from raw and unmarshals it into v.
func Decode(raw string, v any) error {
	span, err := Span(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(span), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// ExtractObject is Decode into a generic map.
func ExtractObject(raw string) (map[string]any, error) {
	var obj map[string]any
	if err := Decode(raw, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChoiceContent reads choices[0].message.content from an OpenAI-style
// chat-completion body.
func ChoiceContent(body []byte) (string, error) {
	var parsed chatCompletion
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrNoChoices
	}
	return parsed.Choices[0].Message.Content, nil
}
