package stories

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"earthquake-stories-go/internal/labels"
)

// Method records how a story's sentiment was obtained.
type Method string

const (
	MethodManual   Method = "manual"
	MethodLMStudio Method = "lmstudio"
)

// ManualSummary is stored for stories whose sentiment was labeled by hand.
const ManualSummary = "Manual analysis does not generate a summary."

var ErrNoStories = errors.New("no stories found")

// Story is one raw survivor account. ID is the source file name.
type Story struct {
	ID   string
	Text string
}

// Location is the place named in a story id. Both fields are null in JSON
// when the id names no place or the place could not be resolved.
type Location struct {
	Name        *string             `json:"name"`
	Coordinates *labels.Coordinates `json:"coordinates"`
}

// Record is an analyzed story as written to analyzed_stories.json and, with
// Location set, geocoded_stories.json.
type Record struct {
	StoryID   string           `json:"story_id"`
	Text      string           `json:"text"`
	Sentiment labels.Sentiment `json:"sentiment"`
	Summary   string           `json:"summary"`
	Method    Method           `json:"method"`
	Location  *Location        `json:"location,omitempty"`
}

// LoadDir reads every .txt file in dir, ordered by file name.
func LoadDir(dir string) ([]Story, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []Story
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		out = append(out, Story{ID: e.Name(), Text: strings.TrimSpace(string(data))})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoStories)
	}
	return out, nil
}

// ReadJSON loads a story record array.
func ReadJSON(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}

// WriteJSON saves records with four-space indentation and unescaped text.
func WriteJSON(path string, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}

var bracketed = regexp.MustCompile(`\[(.*?)\]`)

// LocationFromID returns the second bracketed group of a story id, e.g.
// "Quake [2011] [Christchurch Central].txt" yields "Christchurch Central".
func LocationFromID(id string) (string, bool) {
	groups := bracketed.FindAllStringSubmatch(id, -1)
	if len(groups) < 2 {
		return "", false
	}
	name := strings.TrimSpace(groups[1][1])
	return name, name != ""
}
