package anythingllm

import "errors"

// Response is the canonical reply shape the rest of the pipeline works
// with, regardless of which field names the upstream used.
type Response struct {
	Text        string   `json:"text"`
	Sources     []Source `json:"sources"`
	Suggestions []string `json:"suggestions"`
}

type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ErrUnknownShape means none of the known upstream variants carried a text
// body. Callers treat it like any other upstream failure instead of
// forwarding an empty reply.
var ErrUnknownShape = errors.New("anythingllm: unrecognized response shape")

// Normalize maps the upstream's loosely-shaped JSON onto Response.
// Text precedence: textResponse, then text, then data.text (a wrapped
// response, whose data.sources is promoted). Suggestion precedence:
// suggestedQuestions, then suggestions.
func Normalize(raw map[string]any) (Response, error) {
	var out Response

	sourcesField := raw["sources"]

	if v, ok := raw["textResponse"].(string); ok && v != "" {
		out.Text = v
	} else if v, ok := raw["text"].(string); ok && v != "" {
		out.Text = v
	} else if data, ok := raw["data"].(map[string]any); ok {
		if v, ok := data["text"].(string); ok && v != "" {
			out.Text = v
		}
		if s, ok := data["sources"]; ok {
			sourcesField = s
		}
	}

	if out.Text == "" {
		return Response{}, ErrUnknownShape
	}

	if list, ok := sourcesField.([]any); ok {
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			src := Source{}
			if v, ok := m["title"].(string); ok {
				src.Title = v
			}
			if v, ok := m["url"].(string); ok {
				src.URL = v
			}
			out.Sources = append(out.Sources, src)
		}
	}

	out.Suggestions = stringList(raw["suggestedQuestions"])
	if out.Suggestions == nil {
		out.Suggestions = stringList(raw["suggestions"])
	}

	return out, nil
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
