package server

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func TestStatusWebsocket(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	t.Run("unknown job is rejected before the upgrade", func(t *testing.T) {
		t.Parallel()
		resp, err := http.Get(api.ts.URL + "/api/status/unknown/ws")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	})

	t.Run("streams states until done", func(t *testing.T) {
		t.Parallel()
		id := api.generateToPreview(t)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		wsURL := "ws" + strings.TrimPrefix(api.ts.URL, "http") + "/api/status/" + id + "/ws"
		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "test done")

		// First frame carries the current preview state.
		var first map[string]any
		if err := wsjson.Read(ctx, conn, &first); err != nil {
			t.Fatalf("read first frame: %v", err)
		}
		if first["state"] != "preview" {
			t.Fatalf("first state = %v", first["state"])
		}

		resp, _ := api.postJSON(t, "/api/generate/"+id+"/confirm", nil)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("confirm status = %d", resp.StatusCode)
		}

		// Later frames walk through generating_audio and end at done.
		sawDone := false
		for !sawDone {
			var frame map[string]any
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				t.Fatalf("read frame: %v", err)
			}
			switch frame["state"] {
			case "done":
				sawDone = true
				if frame["audio_url"] == "" || frame["audio_url"] == nil {
					t.Fatalf("done frame without audio_url: %v", frame)
				}
			case "error":
				t.Fatalf("generation failed: %v", frame["error"])
			}
		}
	})
}
