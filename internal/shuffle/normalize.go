package shuffle

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/examdesk/examdesk-backend/internal/model"
)

// ErrNoOptions is returned for questions whose options cannot be normalized
// into a non-empty ordered list.
var ErrNoOptions = errors.New("question has no usable options")

// letterKey returns "A", "B", ... "Z", "AA", ... for positional option keys.
func letterKey(i int) string {
	key := ""
	for {
		key = string(rune('A'+i%26)) + key
		i = i/26 - 1
		if i < 0 {
			return key
		}
	}
}

// NormalizeOptions converts the heterogeneous upstream option shapes into the
// canonical ordered list used everywhere downstream. Accepted shapes:
//
//   - JSON array of strings: keys assigned positionally ("A", "B", ...)
//   - JSON array of {key, text} objects: used as-is
//   - JSON object mapping key to text: ordered by key
//   - JSON string containing any of the above (double-encoded imports)
//
// Anything else, or an empty result, fails with ErrNoOptions so bad questions
// are rejected at ingestion instead of branching on shape in the UI path.
func NormalizeOptions(raw json.RawMessage) ([]model.Option, error) {
	if len(raw) == 0 {
		return nil, ErrNoOptions
	}

	// Double-encoded payloads carry the real shape inside a JSON string.
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		return NormalizeOptions(json.RawMessage(inner))
	}

	var objs []model.Option
	if err := json.Unmarshal(raw, &objs); err == nil && len(objs) > 0 && objs[0].Key != "" {
		return objs, nil
	}

	var texts []string
	if err := json.Unmarshal(raw, &texts); err == nil {
		opts := make([]model.Option, 0, len(texts))
		for i, t := range texts {
			opts = append(opts, model.Option{Key: letterKey(i), Text: t})
		}
		if len(opts) == 0 {
			return nil, ErrNoOptions
		}
		return opts, nil
	}

	var mapped map[string]string
	if err := json.Unmarshal(raw, &mapped); err == nil {
		keys := make([]string, 0, len(mapped))
		for k := range mapped {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		opts := make([]model.Option, 0, len(keys))
		for _, k := range keys {
			opts = append(opts, model.Option{Key: k, Text: mapped[k]})
		}
		if len(opts) == 0 {
			return nil, ErrNoOptions
		}
		return opts, nil
	}

	return nil, fmt.Errorf("unrecognized options shape: %w", ErrNoOptions)
}

// NormalizeQuestion produces the student-facing form of a stored question.
func NormalizeQuestion(q *model.Question) (model.QuestionForStudent, error) {
	opts, err := NormalizeOptions(q.Options)
	if err != nil {
		return model.QuestionForStudent{}, fmt.Errorf("question %s: %w", q.ID, err)
	}
	return model.QuestionForStudent{
		ID:      q.ID,
		Text:    q.Text,
		Options: opts,
		IsMulti: q.IsMulti,
		Marks:   q.Marks,
	}, nil
}
