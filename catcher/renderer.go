package catcher

import (
	"io"
)

const (
	statusLineOK         = "HTTP/1.1 200 OK\r\n\r\n"
	statusLineBadRequest = "HTTP/1.1 400 Bad Request\r\n\r\n"

	// DefaultSuccessMessage is the body shown in the browser tab once a token
	// has been captured.
	DefaultSuccessMessage = "Successfully logged in. You can now close this tab."
)

// Renderer writes the raw response sent back over the callback connection.
// Responses carry a status line and no headers.
type Renderer interface {
	RenderTokenIssued(w io.Writer) error
	RenderError(w io.Writer, message string) error
}

// TextRenderer renders plain-text responses.
type TextRenderer struct {
	// SuccessMessage defaults to DefaultSuccessMessage.
	SuccessMessage string
}

// RenderTokenIssued renders a success message after a token was captured.
func (r *TextRenderer) RenderTokenIssued(w io.Writer) error {
	msg := r.SuccessMessage
	if msg == "" {
		msg = DefaultSuccessMessage
	}
	_, err := io.WriteString(w, statusLineOK+msg)
	return err
}

// RenderError renders an unrecoverable error.
func (r *TextRenderer) RenderError(w io.Writer, message string) error {
	_, err := io.WriteString(w, statusLineBadRequest+message)
	return err
}
