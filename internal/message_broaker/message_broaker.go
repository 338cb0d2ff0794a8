package message_broaker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/RezaEskandarii/ticketfire/types"
)

// Publisher fans task events out to peers. Delivery is fire-and-forget and at most once; callers
// log a failed Publish and move on.
type Publisher interface {
	Publish(ctx context.Context, event types.TaskEvent) error
	Close() error
}

func encodeEvent(event types.TaskEvent) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s event for task %s: %w", event.Type, event.TaskID, err)
	}
	return body, nil
}
