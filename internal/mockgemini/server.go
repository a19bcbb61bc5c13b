// Package mockgemini is a minimal stand-in for the Gemini generateContent API.
// It serves canned or scripted answers so the gateway can be exercised offline.
package mockgemini

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Call records a generateContent request made to the mock.
type Call struct {
	Model  string
	Prompt string
	// Tools lists the tool kinds requested, e.g. "googleSearch", "googleMaps".
	Tools     []string
	HasLatLng bool
	MIMEType  string
	HasSchema bool
}

// Reply is a scripted answer. A Status >= 400 is returned as an API error.
type Reply struct {
	Status  int
	Text    string
	Message string
}

// Server implements the generateContent endpoint under /v1beta/models/.
type Server struct {
	mu      sync.Mutex
	calls   []Call
	replies []Reply

	expectedKey string
}

// New constructs an empty mock that answers with canned prospects and drafts.
func New() *Server {
	return &Server{}
}

// RequireAPIKey enforces that requests carry the given x-goog-api-key header.
// An empty key disables the check.
func (s *Server) RequireAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expectedKey = strings.TrimSpace(key)
}

// Enqueue scripts the next replies, consumed in order before falling back to canned answers.
func (s *Server) Enqueue(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1beta/models/", s.handleModels)
	return mux
}

type part struct {
	Text string `json:"text,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type latLng struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type toolConfig struct {
	RetrievalConfig *struct {
		LatLng *latLng `json:"latLng"`
	} `json:"retrievalConfig"`
}

type generationConfig struct {
	ResponseMIMEType string          `json:"responseMimeType"`
	ResponseSchema   json.RawMessage `json:"responseSchema"`
}

type generateRequest struct {
	Contents         []content                    `json:"contents"`
	Tools            []map[string]json.RawMessage `json:"tools"`
	ToolConfig       *toolConfig                  `json:"toolConfig"`
	GenerationConfig *generationConfig            `json:"generationConfig"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	// /v1beta/models/{model}:generateContent
	rest := strings.TrimPrefix(r.URL.Path, "/v1beta/models/")
	model, method, ok := strings.Cut(rest, ":")
	if !ok || method != "generateContent" || model == "" {
		writeError(w, http.StatusNotFound, "unknown method")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.mu.Lock()
	expected := s.expectedKey
	s.mu.Unlock()
	if expected != "" && r.Header.Get("x-goog-api-key") != expected {
		writeError(w, http.StatusForbidden, "API key not valid")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	var req generateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return
	}

	call := Call{Model: model, Prompt: promptText(req)}
	for _, tool := range req.Tools {
		for kind := range tool {
			call.Tools = append(call.Tools, kind)
		}
	}
	if req.ToolConfig != nil && req.ToolConfig.RetrievalConfig != nil && req.ToolConfig.RetrievalConfig.LatLng != nil {
		call.HasLatLng = true
	}
	if gc := req.GenerationConfig; gc != nil {
		call.MIMEType = gc.ResponseMIMEType
		call.HasSchema = len(gc.ResponseSchema) > 0 && string(gc.ResponseSchema) != "null"
	}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	var reply *Reply
	if len(s.replies) > 0 {
		next := s.replies[0]
		s.replies = s.replies[1:]
		reply = &next
	}
	s.mu.Unlock()

	if reply == nil {
		reply = &Reply{Text: cannedAnswer(call.Prompt)}
	}
	if reply.Status >= 400 {
		msg := reply.Message
		if msg == "" {
			msg = http.StatusText(reply.Status)
		}
		writeError(w, reply.Status, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": []any{
			map[string]any{
				"content": content{
					Role:  "model",
					Parts: []part{{Text: reply.Text}},
				},
				"finishReason": "STOP",
			},
		},
		"modelVersion": model,
	})
}

func promptText(req generateRequest) string {
	var b strings.Builder
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// cannedAnswer returns a prospect list for search prompts and an A/B pair otherwise.
func cannedAnswer(prompt string) string {
	if strings.Contains(prompt, "Search query:") {
		return `[` +
			`{"companyName":"Acme Corp","contactName":"Jane Doe","email":"jane@acme.test","website":"https://acme.test","location":"Lyon","description":"Industrial supplies","qualificationScore":82,"qualificationReason":"Strong fit"},` +
			`{"companyName":"Globex Inc","email":"hello@globex.test","website":"https://globex.test","qualificationScore":64,"qualificationReason":"Partial fit"}` +
			`]`
	}
	return `{"variantA":{"subject":"Quick question","body":"Hello,\n\nA short note about our offer."},` +
		`"variantB":{"subject":"An idea for you","body":"Hi,\n\nA different angle on our offer."}}`
}

func statusName(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	}
	if code >= 500 {
		return "INTERNAL"
	}
	return "UNKNOWN"
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
			"status":  statusName(code),
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
