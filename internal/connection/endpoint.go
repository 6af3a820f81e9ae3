package connection

import (
	"net/url"
	"strings"
)

// Endpoint locates the channel service. Secure selects wss, mirroring a page
// served over https.
type Endpoint struct {
	Secure   bool
	Host     string `validate:"required,hostname_port|hostname|tcp_addr"`
	Provider string
}

// Scheme returns "wss" for secure endpoints and "ws" otherwise.
func (e Endpoint) Scheme() string {
	if e.Secure {
		return "wss"
	}
	return "ws"
}

// URL returns the subscription URL of userID in conversationID:
// {scheme}://{host}/{provider}/channels/{conversationID}/subscribe/{userID}.
func (e Endpoint) URL(conversationID, userID string) string {
	segments := make([]string, 0, 5)
	if p := strings.Trim(e.Provider, "/"); p != "" {
		segments = append(segments, p)
	}
	segments = append(segments,
		"channels", url.PathEscape(conversationID),
		"subscribe", url.PathEscape(userID),
	)
	return e.Scheme() + "://" + e.Host + "/" + strings.Join(segments, "/")
}
