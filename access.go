// This file contains channel admission control. A visitor-joinable channel
// id has the form <namespace>__<conversationId>_<token> where token is the
// hex sha256 of the service key concatenated with the conversation id. The
// token proves the id was minted by a holder of the service key; it is the
// only admission control in the system.
package chatrelay

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// admissionToken computes the expected token for a conversation id.
func admissionToken(serviceKey, conversationID string) string {
	sum := sha256.Sum256([]byte(serviceKey + conversationID))
	return hex.EncodeToString(sum[:])
}

// MintChannelID builds a joinable channel id for a conversation. Intended
// for the page-rendering side and for tests; the relay itself only
// validates.
func MintChannelID(namespace, conversationID, serviceKey string) string {
	return namespace + "__" + conversationID + "_" + admissionToken(serviceKey, conversationID)
}

// splitChannelID parses a conversation channel id into its conversation id
// and admission token. Malformed ids fail closed.
func splitChannelID(channelID string) (conversationID, token string, err error) {
	_, rest, ok := strings.Cut(channelID, "__")
	if !ok {
		return "", "", badRequest(channelID, "channel id has no conversation section")
	}
	conversationID, token, ok = strings.Cut(rest, "_")
	if !ok || conversationID == "" || token == "" {
		return "", "", badRequest(channelID, "channel id has no admission token")
	}
	return conversationID, token, nil
}

// conversationIDOf extracts the conversation id from a channel id.
func conversationIDOf(channelID string) (string, error) {
	conversationID, _, err := splitChannelID(channelID)
	return conversationID, err
}

// validateChannelID reports whether the admission token embedded in the
// channel id matches the one derived from the service key. Any parse
// failure or mismatch returns an error and no state is mutated by callers.
func validateChannelID(channelID, serviceKey string) error {
	conversationID, token, err := splitChannelID(channelID)
	if err != nil {
		return err
	}
	expected := admissionToken(serviceKey, conversationID)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(token)) != 1 {
		return admissionDenied(channelID, "admission token does not match conversation id")
	}
	return nil
}
