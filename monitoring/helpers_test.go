package monitoring

import (
	"context"
	"net/http"
)

// httpHandler serves the feed with a handler that echoes every frame back
// as a prediction message.
func httpHandler(feed *Feed) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		feed.ServeWS(w, r, func(_ context.Context, payload []byte) *Message {
			msg, err := NewMessage(PredictionMessage, nil)
			if err != nil {
				return nil
			}
			msg.Data = payload
			return &msg
		})
	})
}
