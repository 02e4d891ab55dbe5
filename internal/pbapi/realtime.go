package pbapi

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
)

// ConnectEvent is the name of the first event on a realtime stream; its data
// carries the client id used to register subscriptions.
const ConnectEvent = "PB_CONNECT"

// ConnectPayload is the data of the PB_CONNECT event.
type ConnectPayload struct {
	ClientID string `json:"clientId"`
}

// SubscribeRequest is POSTed to /api/realtime to replace a client's topics.
type SubscribeRequest struct {
	ClientID      string   `json:"clientId"`
	Subscriptions []string `json:"subscriptions"`
}

// RecordMessage is the data of a record change event.
type RecordMessage struct {
	Action string          `json:"action"`
	Record json.RawMessage `json:"record"`
}

// Topic returns the wildcard topic covering every record of collection.
func Topic(collection string) string {
	return collection + "/*"
}

// TopicCollection reverses Topic. The second result is false for topics that
// do not use the collection wildcard form.
func TopicCollection(topic string) (string, bool) {
	coll, ok := strings.CutSuffix(topic, "/*")
	return coll, ok && coll != ""
}

// Event is one server-sent event frame.
type Event struct {
	ID   string
	Name string
	Data []byte
}

// WriteEvent encodes e as an SSE frame. Multi-line data is split across data
// lines.
func WriteEvent(w io.Writer, e Event) error {
	var b strings.Builder
	if e.ID != "" {
		fmt.Fprintf(&b, "id:%s\n", e.ID)
	}
	if e.Name != "" {
		fmt.Fprintf(&b, "event:%s\n", e.Name)
	}
	for _, line := range strings.Split(string(e.Data), "\n") {
		fmt.Fprintf(&b, "data:%s\n", line)
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

// ReadEvents decodes SSE frames from r and hands each complete event to fn
// until r is exhausted, fn returns an error, or a read fails. Comment lines
// and unknown fields are ignored.
func ReadEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		cur     Event
		data    []string
		hasData bool
	)
	flush := func() error {
		if !hasData && cur.Name == "" {
			cur = Event{}
			return nil
		}
		cur.Data = []byte(strings.Join(data, "\n"))
		ev := cur
		cur, data, hasData = Event{}, nil, false
		return fn(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			cur.ID = value
		case "event":
			cur.Name = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}
