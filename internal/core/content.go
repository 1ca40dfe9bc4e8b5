package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Content is a tagged variant: either a plain string or an ordered list of
// typed blocks. The wire shape mirrors the vendor convention, so a JSON
// string decodes to the text form and a JSON array to the block form.
type Content struct {
	text   string
	blocks []Block
}

// Block is one element of block-form content, discriminated by Type.
type Block struct {
	Type string `json:"type"`

	// Type == "text"
	Text string `json:"text,omitempty"`

	// Type == "image"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	// Type == "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Type == "tool_result"
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Block type discriminators.
const (
	BlockText       = "text"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Text builds text-form content.
func Text(s string) Content {
	return Content{text: s}
}

// Blocks builds block-form content. An empty call yields an empty block list,
// which still serializes as an array.
func Blocks(blocks ...Block) Content {
	if blocks == nil {
		blocks = []Block{}
	}
	return Content{blocks: blocks}
}

// TextBlock builds a text block.
func TextBlock(s string) Block {
	return Block{Type: BlockText, Text: s}
}

// IsBlocks reports whether the content is in block form.
func (c Content) IsBlocks() bool {
	return c.blocks != nil
}

// BlockList returns the blocks of block-form content, or nil for text form.
func (c Content) BlockList() []Block {
	return c.blocks
}

// PlainText flattens the content to text: the string itself for text form,
// the concatenated text blocks (newline-joined) for block form. Non-text
// blocks contribute nothing.
func (c Content) PlainText() string {
	if c.blocks == nil {
		return c.text
	}
	var parts []string
	for _, b := range c.blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// IsEmpty reports whether the content carries nothing at all.
func (c Content) IsEmpty() bool {
	if c.blocks == nil {
		return c.text == ""
	}
	return len(c.blocks) == 0
}

// MarshalJSON emits a JSON string for text form and a JSON array for block
// form, preserving the inbound shape across a round trip.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.blocks != nil {
		return json.Marshal(c.blocks)
	}
	return json.Marshal(c.text)
}

// UnmarshalJSON accepts either a JSON string or a JSON array of blocks.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return fmt.Errorf("content: empty JSON value")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{text: s}
		return nil
	case '[':
		var blocks []Block
		if err := json.Unmarshal(data, &blocks); err != nil {
			return err
		}
		if blocks == nil {
			blocks = []Block{}
		}
		*c = Content{blocks: blocks}
		return nil
	case 'n': // null decodes as empty text
		*c = Content{}
		return nil
	default:
		return fmt.Errorf("content: expected string or block array, got %q", trimmed[0])
	}
}
