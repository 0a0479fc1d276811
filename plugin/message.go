package plugin

import "encoding/json"

// MessageKind identifies the payload type of an output message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindJSON  MessageKind = "json"
	KindBlob  MessageKind = "blob"
	KindImage MessageKind = "image"
	KindLink  MessageKind = "link"
)

// Message is one typed output yielded by a tool invocation. Adapters yield a
// slice of messages; the host decides how to render each kind.
type Message interface {
	Kind() MessageKind
}

// TextMessage carries plain text output.
type TextMessage struct {
	Text string `json:"text"`
}

func (TextMessage) Kind() MessageKind { return KindText }

// JSONMessage carries a structured JSON object.
type JSONMessage struct {
	Object any `json:"object"`
}

func (JSONMessage) Kind() MessageKind { return KindJSON }

// BlobMessage carries binary content with its MIME type.
type BlobMessage struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
}

func (BlobMessage) Kind() MessageKind { return KindBlob }

// ImageMessage carries image bytes. Kept separate from BlobMessage because
// the host previews images inline.
type ImageMessage struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
}

func (ImageMessage) Kind() MessageKind { return KindImage }

// LinkMessage carries a URL the host renders as a clickable link.
type LinkMessage struct {
	URL string `json:"url"`
}

func (LinkMessage) Kind() MessageKind { return KindLink }

// NewTextMessage wraps text into a message.
func NewTextMessage(text string) Message { return TextMessage{Text: text} }

// NewJSONMessage wraps a structured object into a message.
func NewJSONMessage(object any) Message { return JSONMessage{Object: object} }

// NewBlobMessage wraps binary content into a message.
func NewBlobMessage(data []byte, mimeType, filename string) Message {
	return BlobMessage{Data: data, MimeType: mimeType, Filename: filename}
}

// NewImageMessage wraps image bytes into a message.
func NewImageMessage(data []byte, mimeType, filename string) Message {
	return ImageMessage{Data: data, MimeType: mimeType, Filename: filename}
}

// NewLinkMessage wraps a URL into a message.
func NewLinkMessage(url string) Message { return LinkMessage{URL: url} }

// MarshalMessage serializes a message together with its kind tag, which is the
// wire format the host consumes.
func MarshalMessage(m Message) ([]byte, error) {
	return json.Marshal(struct {
		Kind    MessageKind `json:"kind"`
		Payload Message     `json:"payload"`
	}{Kind: m.Kind(), Payload: m})
}
