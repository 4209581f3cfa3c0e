package tcr

import "github.com/google/uuid"

// Letter contains the message body and the channel it is going to.
type Letter struct {
	LetterID   uuid.UUID
	RetryCount uint32
	Body       []byte
	Envelope   *Envelope
}

// Envelope contains the address details of where a letter is going.
type Envelope struct {
	Channel     string
	ContentType string
}

// WrappedBody is what goes over the wire for a wrapped letter, with
// indications of how the body of data was modified (ex., compressed).
type WrappedBody struct {
	LetterID       uuid.UUID   `json:"LetterID"`
	Body           *ModdedBody `json:"Body"`
	LetterMetadata string      `json:"LetterMetadata"`
}

// ModdedBody is a payload with modifications and indicators of what was modified.
type ModdedBody struct {
	Encrypted   bool   `json:"Encrypted"`
	EType       string `json:"EncryptionType,omitempty"`
	Compressed  bool   `json:"Compressed"`
	CType       string `json:"CompressionType,omitempty"`
	UTCDateTime string `json:"UTCDateTime"`
	Data        []byte `json:"Data"`
}

// NewLetter creates a Letter with a fresh LetterID addressed to a channel.
func NewLetter(channel string, body []byte) *Letter {
	return &Letter{
		LetterID: uuid.New(),
		Body:     body,
		Envelope: &Envelope{
			Channel:     channel,
			ContentType: "application/json",
		},
	}
}
