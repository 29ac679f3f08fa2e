package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	messageIDPrefix = "msg_"
	requestIDPrefix = "req_"
	toolUseIDPrefix = "toolu_"
)

var messageIDPattern = regexp.MustCompile(`^msg_[a-zA-Z0-9]{24}$`)

// NewMessageID generates a new message ID with the "msg_" prefix followed
// by 24 cryptographically random alphanumeric characters.
func NewMessageID() string {
	return messageIDPrefix + randomAlphanumeric(idLength)
}

// NewRequestID generates a correlation ID for one inbound HTTP request.
func NewRequestID() string {
	return requestIDPrefix + randomAlphanumeric(idLength)
}

// NewToolUseID generates an ID for a tool_use content block, used when the
// backend did not assign one itself.
func NewToolUseID() string {
	return toolUseIDPrefix + randomAlphanumeric(idLength)
}

// ValidateMessageID checks whether the given string is a valid message ID
// (matches "msg_" + 24 alphanumeric characters).
func ValidateMessageID(id string) bool {
	return messageIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
