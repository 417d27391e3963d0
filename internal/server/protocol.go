package server

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownMessageType is returned for client frames with an unrecognised type.
var ErrUnknownMessageType = errors.New("unknown message type")

// Command is a decoded client request. The concrete types below are the
// only implementations.
type Command interface {
	command()
}

type (
	// NextTheme asks for the next stylesheet (ChangeCssNext).
	NextTheme struct{}
	// PreviousTheme asks for the previous stylesheet (ChangeCssPrev).
	PreviousTheme struct{}
	// ExportHTML writes the current rendering to disk. Path is optional.
	ExportHTML struct{ Path string }
	// Redirect binds the session to another document.
	Redirect struct{ Path string }
	// RedirectDefault binds the session back to its initial document.
	RedirectDefault struct{}
)

func (NextTheme) command()       {}
func (PreviousTheme) command()   {}
func (ExportHTML) command()      {}
func (Redirect) command()        {}
func (RedirectDefault) command() {}

// ClientMessage is the JSON frame sent by the viewer.
type ClientMessage struct {
	Type string  `json:"type"`
	Body *string `json:"body,omitempty"`
}

// ParseCommand decodes a client frame.
func ParseCommand(data []byte) (Command, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	var body string
	if msg.Body != nil {
		body = *msg.Body
	}

	switch msg.Type {
	case "ChangeCssNext":
		return NextTheme{}, nil
	case "ChangeCssPrev":
		return PreviousTheme{}, nil
	case "ExportHtml":
		return ExportHTML{Path: body}, nil
	case "Redirect":
		return Redirect{Path: body}, nil
	case "RedirectDefault":
		return RedirectDefault{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}
}

// MessageType tags server frames.
type MessageType string

const (
	MsgCssChange  MessageType = "CssChange"  // Body: new theme identifier
	MsgCssUpdate  MessageType = "CssUpdate"  // Body: empty; the theme list changed
	MsgHtmlUpdate MessageType = "HtmlUpdate" // Body: rendered document fragment
	MsgSuccess    MessageType = "Success"    // Body: empty
	MsgError      MessageType = "Error"      // Body: error text
)

// ServerMessage is the JSON frame sent to the viewer.
type ServerMessage struct {
	Type MessageType `json:"type"`
	Body string      `json:"body"`
}

func errorMessage(err error) ServerMessage {
	return ServerMessage{Type: MsgError, Body: err.Error()}
}
