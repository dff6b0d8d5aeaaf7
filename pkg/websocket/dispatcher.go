package websocket

import "context"

// HandlerFunc processes one request frame and returns the reply frame.
// A returned error does not close the connection; the connection layer
// converts it into an error frame for the client.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

// Dispatcher maps actions to handlers. Registration happens once at
// startup; the table is read-only afterwards, so Dispatch needs no
// locking.
type Dispatcher struct {
	byAction map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{byAction: make(map[string]HandlerFunc)}
}

// RegisterFunc binds an action to a handler, replacing any previous
// binding.
func (d *Dispatcher) RegisterFunc(action string, fn HandlerFunc) {
	d.byAction[action] = fn
}

// Dispatch routes a frame to its handler. An unknown action answers
// with an error frame rather than failing the connection.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) (*Message, error) {
	fn, ok := d.byAction[msg.Action]
	if !ok {
		return NewError(msg.ID, msg.Action, ErrorCodeUnknownAction,
			"Unknown action: "+msg.Action, nil)
	}
	return fn(ctx, msg)
}
