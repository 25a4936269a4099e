package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ourea-as/meadstats-api/internal/reconcile"
)

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, reader *bufio.Reader) <-chan sseEvent {
	t.Helper()
	events := make(chan sseEvent, 16)
	go func() {
		defer close(events)
		current := sseEvent{}
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				if current.name != "" {
					events <- current
				}
				current = sseEvent{}
			case strings.HasPrefix(line, "event:"):
				current.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				current.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
	}()
	return events
}

func nextEvent(t *testing.T, events <-chan sseEvent, name string) sseEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", name)
		case event, ok := <-events:
			if !ok {
				t.Fatalf("stream closed before %s event", name)
			}
			if event.name == name {
				return event
			}
		}
	}
}

func TestUpdateStreamEmitsProgressAndFinishedEvents(t *testing.T) {
	fixture := newRouterFixture(t)
	server := httptest.NewServer(fixture.handler)
	t.Cleanup(server.Close)

	token := fixture.token(t, "MeadLover")
	streamRequest, err := http.NewRequest(http.MethodGet, server.URL+"/v1/updates/stream?access_token="+token, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if contentType := streamResp.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected content type %q", contentType)
	}

	events := readEvents(t, bufio.NewReader(streamResp.Body))
	nextEvent(t, events, realtimeEventHeartbeat)

	fixture.realtime.ReportProgress(reconcile.Progress{
		RunID:     "run-1",
		Username:  "friend",
		Requester: "MeadLover",
		Offset:    0,
		Total:     75,
		Action:    reconcile.ActionCheckins,
	})
	fixture.realtime.Finished(reconcile.RunResult{
		RunID:     "run-1",
		Username:  "friend",
		Requester: "MeadLover",
		State:     reconcile.StateCaughtUp,
	})

	progressEvent := nextEvent(t, events, RealtimeEventProgress)
	var progress progressEventPayload
	if err := json.Unmarshal([]byte(progressEvent.data), &progress); err != nil {
		t.Fatalf("failed to decode progress payload: %v", err)
	}
	if progress.RunID != "run-1" || progress.Total != 75 || progress.Action != "checkins" {
		t.Fatalf("unexpected progress payload %#v", progress)
	}

	finishedEvent := nextEvent(t, events, RealtimeEventFinished)
	var finished finishedEventPayload
	if err := json.Unmarshal([]byte(finishedEvent.data), &finished); err != nil {
		t.Fatalf("failed to decode finished payload: %v", err)
	}
	if !finished.Finished || finished.State != string(reconcile.StateCaughtUp) {
		t.Fatalf("unexpected finished payload %#v", finished)
	}
}

func TestUpdateStreamRequiresSession(t *testing.T) {
	fixture := newRouterFixture(t)
	recorder := fixture.serve(httptest.NewRequest(http.MethodGet, "/v1/updates/stream", http.NoBody))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}
