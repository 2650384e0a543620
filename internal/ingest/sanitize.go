package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"pumpbridge/internal/models"
)

var (
	ErrMalformedInput   = errors.New("malformed input")
	ErrUnknownDevice    = errors.New("unknown device")
	ErrUnknownAttribute = errors.New("unknown attribute")
)

var (
	topicNameClean = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	deviceIDClean  = regexp.MustCompile(`[^a-zA-Z0-9]`)
	payloadClean   = regexp.MustCompile(`[^-a-zA-Z_0-9)(:\., #/]`)
)

// Message is an inbound publication after sanitizing.
type Message struct {
	Topic    string // first topic level, e.g. "FlowRate"
	DeviceID string
	Value    string
}

// ParseTopic splits "<Attr>/<DeviceID>" and strips both parts to their allowed alphabets.
func ParseTopic(topic string) (name, deviceID string, err error) {
	head, tail, _ := strings.Cut(topic, "/")
	name = topicNameClean.ReplaceAllString(head, "")
	deviceID = deviceIDClean.ReplaceAllString(tail, "")

	if name == "" {
		return name, deviceID, fmt.Errorf("%w: empty topic name in %q", ErrMalformedInput, topic)
	}
	if n := len(deviceID); n < models.DeviceIDMinLength || n > models.DeviceIDMaxLength {
		return name, deviceID, fmt.Errorf("%w: device id %q has length %d", ErrMalformedInput, deviceID, n)
	}
	return name, deviceID, nil
}

// SanitizePayload keeps the printable prefix of the payload up to the first NUL and
// removes everything outside the value alphabet.
func SanitizePayload(payload []byte) string {
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		payload = payload[:i]
	}
	var b strings.Builder
	b.Grow(len(payload))
	for _, c := range payload {
		if c >= 32 && c < 128 {
			b.WriteByte(c)
		}
	}
	return payloadClean.ReplaceAllString(b.String(), "")
}

// ParseMessage sanitizes a raw publication.
func ParseMessage(topic string, payload []byte) (Message, error) {
	name, deviceID, err := ParseTopic(topic)
	msg := Message{Topic: name, DeviceID: deviceID, Value: SanitizePayload(payload)}
	return msg, err
}
