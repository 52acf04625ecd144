package timeline

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/danielhkuo/watchlobby/models"
)

func newTestTimeline(send SendFunc) (*Timeline, *clock.Mock) {
	mck := clock.NewMock()
	if send == nil {
		send = func(models.SyncMessage) error { return nil }
	}
	return New(mck, nil, "self", send), mck
}

func TestSend_OptimisticEcho(t *testing.T) {
	var sent []models.SyncMessage
	tl, _ := newTestTimeline(func(m models.SyncMessage) error {
		sent = append(sent, m)
		return nil
	})

	tl.Send("  hello  ", "self", "Self")

	msgs := tl.Messages()
	if len(msgs) != 1 {
		t.Fatalf("timeline length = %d, want 1", len(msgs))
	}
	if msgs[0].Text != "hello" {
		t.Errorf("text = %q, want trimmed", msgs[0].Text)
	}
	if len(sent) != 1 || sent[0].Text != "hello" {
		t.Fatalf("send handler got %v", sent)
	}
	if sent[0].ID == "" {
		t.Error("outbound messages need an id")
	}
}

func TestSend_FailureKeepsLocalEcho(t *testing.T) {
	tl, _ := newTestTimeline(func(models.SyncMessage) error {
		return errors.New("transport down")
	})

	tl.Send("hi", "self", "Self")

	if len(tl.Messages()) != 1 {
		t.Error("optimistic echo must survive a failed send")
	}
}

func TestSend_RejectsEmpty(t *testing.T) {
	tl, _ := newTestTimeline(func(models.SyncMessage) error {
		t.Fatal("empty message must not transmit")
		return nil
	})
	tl.Send("   ", "self", "Self")
	if len(tl.Messages()) != 0 {
		t.Error("empty message appended")
	}
}

func TestHandleIncoming_DropsSelfEchoAndBlocked(t *testing.T) {
	tl, _ := newTestTimeline(nil)

	tl.HandleIncoming("echo", "SELF", "Self", false, nil) // case-insensitive self match
	tl.HandleIncoming("spam", "troll", "Troll", false, map[string]bool{"troll": true})
	tl.HandleIncoming("hi", "friend", "Friend", true, map[string]bool{"troll": true})

	msgs := tl.Messages()
	if len(msgs) != 1 {
		t.Fatalf("timeline length = %d, want 1", len(msgs))
	}
	if msgs[0].SenderID != "friend" || !msgs[0].Premium {
		t.Errorf("unexpected entry: %+v", msgs[0])
	}
}

func TestAddSystemMessage_DedupeWindow(t *testing.T) {
	tl, mck := newTestTimeline(nil)

	tl.AddSystemMessage(models.NoticeJoined, "alice joined the room")
	tl.AddSystemMessage(models.NoticeJoined, "alice joined the room") // within window
	if n := len(tl.Messages()); n != 1 {
		t.Fatalf("duplicate within window: length = %d, want 1", n)
	}

	// Different text is not a duplicate.
	tl.AddSystemMessage(models.NoticeJoined, "bob joined the room")
	if n := len(tl.Messages()); n != 2 {
		t.Fatalf("distinct notice suppressed: length = %d", n)
	}

	// Past the window the identical notice posts again.
	mck.Add(DefaultDedupeWindow + time.Millisecond)
	tl.AddSystemMessage(models.NoticeJoined, "alice joined the room")
	if n := len(tl.Messages()); n != 3 {
		t.Errorf("notice after window: length = %d, want 3", n)
	}
}

func TestCapEvictsOldest(t *testing.T) {
	tl, mck := newTestTimeline(nil)

	for i := 0; i < DefaultMaxLen+10; i++ {
		mck.Add(time.Second)
		tl.HandleIncoming("m", "other", "Other", false, nil)
	}

	msgs := tl.Messages()
	if len(msgs) != DefaultMaxLen {
		t.Fatalf("length = %d, want %d", len(msgs), DefaultMaxLen)
	}
	if !msgs[0].At.Before(msgs[len(msgs)-1].At) {
		t.Error("timeline should stay ordered oldest first")
	}
}
