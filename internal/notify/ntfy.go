// Package notify pushes trade events to the operator's phone via ntfy.sh.
package notify

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Notifier is the push surface the engine talks to. Sends are best-effort;
// the engine never blocks trading on a notification failure.
type Notifier interface {
	Send(title, message string, tags ...string)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Send(string, string, ...string) {}

// Ntfy publishes to a single ntfy.sh topic.
type Ntfy struct {
	TopicURL string
	Client   *http.Client

	// onError receives delivery failures; defaults to a log line.
	onError func(error)
}

func NewNtfy(topicURL string, onError func(error)) *Ntfy {
	return &Ntfy{
		TopicURL: topicURL,
		Client:   &http.Client{Timeout: 5 * time.Second},
		onError:  onError,
	}
}

// Send posts one notification with up to 3 retries. Runs synchronously;
// callers that cannot wait should wrap it in a goroutine.
func (n *Ntfy) Send(title, message string, tags ...string) {
	if n.TopicURL == "" {
		return
	}
	var lastErr error
	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodPost, n.TopicURL, bytes.NewReader([]byte(message)))
		if err != nil {
			lastErr = err
			break
		}
		req.Header.Set("Title", title)
		if len(tags) > 0 {
			req.Header.Set("Tags", strings.Join(tags, ","))
		}
		resp, err := n.Client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return
		}
		lastErr = fmt.Errorf("ntfy status=%d", resp.StatusCode)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	if lastErr != nil && n.onError != nil {
		n.onError(lastErr)
	}
}
