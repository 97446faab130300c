package trackfeed

import (
	"bufio"
	"io"
	"strings"
)

// RawEvent is one event decoded from a text/event-stream body.
type RawEvent struct {
	Event string
	Data  string
	ID    string
}

// EventReader decodes server-sent events from a stream. Field lines
// accumulate until a blank line marks the event boundary.
type EventReader struct {
	r *bufio.Reader
}

// NewEventReader wraps a stream body for event-by-event reading.
func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{r: bufio.NewReader(r)}
}

// Next blocks until a full event has arrived and returns it. A stream that
// ends mid-event still yields that event; the read after reports io.EOF.
func (er *EventReader) Next() (RawEvent, error) {
	var (
		ev    RawEvent
		data  []string
		dirty bool
	)
	for {
		line, err := er.r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if dirty && err == nil {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
		} else if !strings.HasPrefix(line, ":") {
			name, value, _ := strings.Cut(line, ":")
			// Only the first space after the colon is padding.
			value = strings.TrimPrefix(value, " ")
			switch name {
			case "event":
				ev.Event = value
				dirty = true
			case "data":
				data = append(data, value)
				dirty = true
			case "id":
				ev.ID = value
				dirty = true
			}
		}

		if err != nil {
			if err == io.EOF && dirty {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			return RawEvent{}, err
		}
	}
}
