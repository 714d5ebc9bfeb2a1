package executor

import (
	"strings"

	"github.com/tidwall/sjson"
)

const (
	// baselineInstructions always opens the instructions block unless configured otherwise.
	baselineInstructions = "You are a helpful assistant. Answer the user's request directly and accurately."
	// jsonDirective is appended when the caller expects machine-readable output.
	jsonDirective = "Return valid JSON only. Do not wrap it in markdown code fences or add any commentary."

	assistantLabel = "assistant: "
)

// Message is one role-tagged turn of the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one logical completion call.
type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	// JSON asks the model to answer with valid JSON only.
	JSON bool `json:"json"`
}

// transformMessages splits messages into the instructions block and the input turns.
// System and developer turns feed the instructions; assistant turns are replayed as
// labelled user turns because the endpoint rejects assistant-authored input here.
func transformMessages(messages []Message, baseline string, jsonOutput bool) (string, []Message) {
	if strings.TrimSpace(baseline) == "" {
		baseline = baselineInstructions
	}
	instructions := []string{strings.TrimSpace(baseline)}
	input := make([]Message, 0, len(messages))
	for _, msg := range messages {
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case "system", "developer":
			instructions = append(instructions, text)
		case "assistant":
			input = append(input, Message{Role: "user", Content: assistantLabel + msg.Content})
		default:
			input = append(input, Message{Role: "user", Content: msg.Content})
		}
	}
	if jsonOutput {
		instructions = append(instructions, jsonDirective)
	}
	return strings.Join(instructions, "\n\n"), input
}

// buildCodexRequest renders the responses payload for model.
func buildCodexRequest(model, instructions string, input []Message) ([]byte, error) {
	body := []byte(`{"model":"","instructions":"","input":[],"store":false,"stream":true}`)
	var err error
	if body, err = sjson.SetBytes(body, "model", model); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "instructions", instructions); err != nil {
		return nil, err
	}
	for _, msg := range input {
		item := []byte(`{"type":"message","role":"","content":[{"type":"input_text","text":""}]}`)
		if item, err = sjson.SetBytes(item, "role", msg.Role); err != nil {
			return nil, err
		}
		if item, err = sjson.SetBytes(item, "content.0.text", msg.Content); err != nil {
			return nil, err
		}
		if body, err = sjson.SetRawBytes(body, "input.-1", item); err != nil {
			return nil, err
		}
	}
	return body, nil
}
