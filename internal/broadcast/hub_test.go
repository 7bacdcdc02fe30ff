package broadcast

import (
	"errors"
	"testing"
	"time"

	"github.com/costwise/aitrace/internal/record"
)

func testRecord(step record.Step, fp string) record.CallRecord {
	return record.CallRecord{
		CallID:             "01" + fp,
		RequestFingerprint: fp,
		Step:               step,
		ModelProvider:      "test",
		ModelName:          "m",
		Status:             record.StatusSuccess,
		CreatedAt:          time.Now().UTC(),
	}
}

func drain(s *session) []ServerMessage {
	var out []ServerMessage
	for {
		select {
		case msg := <-s.out:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestPublishFiltersBySubscription(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, 8, nil)
	riskWatcher := h.register()
	riskWatcher.setSteps([]string{string(record.StepRisk)})
	testWatcher := h.register()
	testWatcher.setSteps([]string{string(record.StepModelTest)})
	idle := h.register() // never subscribes

	h.Publish(testRecord(record.StepModelTest, "fp1"))

	if msgs := drain(riskWatcher); len(msgs) != 0 {
		t.Fatalf("risk subscriber received model-test event: %+v", msgs)
	}
	msgs := drain(testWatcher)
	if len(msgs) != 1 || msgs[0].Type != MsgLogCreated || msgs[0].Data.RequestFingerprint != "fp1" {
		t.Fatalf("model-test subscriber missed event: %+v", msgs)
	}
	if msgs := drain(idle); len(msgs) != 0 {
		t.Fatalf("unsubscribed session received event: %+v", msgs)
	}
}

func TestResubscribeReplacesFilterWholesale(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, 8, nil)
	s := h.register()
	s.setSteps([]string{string(record.StepRisk), string(record.StepTagging)})
	s.setSteps([]string{string(record.StepTagging)})

	h.Publish(testRecord(record.StepRisk, "fp-risk"))
	h.Publish(testRecord(record.StepTagging, "fp-tag"))

	msgs := drain(s)
	if len(msgs) != 1 || msgs[0].Data.Step != record.StepTagging {
		t.Fatalf("old subscription leaked through: %+v", msgs)
	}
}

func TestUnregisteredSessionStopsReceiving(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, 8, nil)
	s := h.register()
	s.setSteps([]string{string(record.StepRisk)})
	h.unregister(s)

	h.Publish(testRecord(record.StepRisk, "fp2"))
	if msgs := drain(s); len(msgs) != 0 {
		t.Fatalf("closed session still receives: %+v", msgs)
	}
	if h.SessionCount() != 0 {
		t.Fatalf("session count %d", h.SessionCount())
	}
}

func TestFullQueueDropsOldest(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, 2, nil)
	s := h.register()
	s.setSteps([]string{string(record.StepRisk)})

	h.Publish(testRecord(record.StepRisk, "fp-a"))
	h.Publish(testRecord(record.StepRisk, "fp-b"))
	h.Publish(testRecord(record.StepRisk, "fp-c"))

	msgs := drain(s)
	if len(msgs) != 2 {
		t.Fatalf("queue bound ignored: %d frames", len(msgs))
	}
	if msgs[0].Data.RequestFingerprint != "fp-b" || msgs[1].Data.RequestFingerprint != "fp-c" {
		t.Fatalf("drop-oldest violated: %+v", msgs)
	}
	if s.dropped.Load() != 1 {
		t.Fatalf("dropped counter %d", s.dropped.Load())
	}
}

type failingMirror struct{ calls int }

func (m *failingMirror) Publish(record.Step, []byte) error {
	m.calls++
	return errors.New("bus down")
}

func TestMirrorFailureDoesNotAbortFanout(t *testing.T) {
	t.Parallel()

	mirror := &failingMirror{}
	h := NewHub(nil, 8, mirror)
	s := h.register()
	s.setSteps([]string{string(record.StepRisk)})

	h.Publish(testRecord(record.StepRisk, "fp-m"))

	if len(drain(s)) != 1 {
		t.Fatal("session delivery lost to mirror failure")
	}
	if mirror.calls != 1 {
		t.Fatalf("mirror calls %d", mirror.calls)
	}
	if h.EventsPublished() != 1 || h.EventsDelivered() != 1 {
		t.Fatalf("counters published=%d delivered=%d", h.EventsPublished(), h.EventsDelivered())
	}
}
