package conversation

import "testing"

func TestAppendGrowsLog(t *testing.T) {
	store := NewStore()
	store.Append(NewUserMessage("Xin chào", "", ""))
	store.Append(NewPendingAssistantMessage())

	if got := store.Len(); got != 2 {
		t.Fatalf("len=%d, want 2", got)
	}
	history := store.History()
	if history[0].Content != "Xin chào" || !history[0].IsUser() {
		t.Fatalf("first=%+v, want user message", history[0])
	}
	if !history[1].Pending || history[1].IsUser() {
		t.Fatalf("second=%+v, want pending assistant", history[1])
	}
}

func TestReplaceTailTouchesOnlyLastEntry(t *testing.T) {
	store := NewStore()
	user := NewUserMessage("hi", "", "")
	store.Append(user)
	store.Append(NewPendingAssistantMessage())

	reply := NewAssistantMessage("Chào bạn")
	store.ReplaceTail(reply)

	history := store.History()
	if len(history) != 2 {
		t.Fatalf("len=%d, want 2", len(history))
	}
	if history[0].ID != user.ID {
		t.Fatalf("first id=%s, want %s", history[0].ID, user.ID)
	}
	if history[1].Content != "Chào bạn" || history[1].Pending {
		t.Fatalf("tail=%+v, want finalized reply", history[1])
	}
}

func TestEmptyStoreTailOpsAreNoOps(t *testing.T) {
	store := NewStore()
	store.ReplaceTail(NewAssistantMessage("x"))
	store.SetTailPending(true)

	if got := store.Len(); got != 0 {
		t.Fatalf("len=%d, want 0", got)
	}
	if _, ok := store.LastUserMessage(); ok {
		t.Fatalf("expected no user message")
	}
}

func TestSetTailPending(t *testing.T) {
	store := NewStore()
	store.Append(NewAssistantMessage("done"))
	store.SetTailPending(true)

	if !store.History()[0].Pending {
		t.Fatalf("tail should be pending")
	}
}

func TestLastUserMessage(t *testing.T) {
	store := NewStore()
	store.Append(NewUserMessage("first", "", ""))
	store.Append(NewAssistantMessage("reply"))
	store.Append(NewUserMessage("second", "img_1", ""))
	store.Append(NewPendingAssistantMessage())

	msg, ok := store.LastUserMessage()
	if !ok {
		t.Fatalf("expected a user message")
	}
	if msg.Content != "second" || msg.ImageRef != "img_1" {
		t.Fatalf("last user=%+v", msg)
	}
}

func TestClear(t *testing.T) {
	store := NewStore()
	store.Append(NewUserMessage("a", "", ""))
	store.Clear()
	if got := store.Len(); got != 0 {
		t.Fatalf("len=%d, want 0", got)
	}
}

func TestHistoryIsACopy(t *testing.T) {
	store := NewStore()
	store.Append(NewUserMessage("a", "", ""))

	history := store.History()
	history[0].Content = "mutated"

	if got := store.History()[0].Content; got != "a" {
		t.Fatalf("content=%q, want a", got)
	}
}

func TestSubscribeReceivesLatestSnapshot(t *testing.T) {
	store := NewStore()
	updates, cancel := store.Subscribe()
	defer cancel()

	initial := <-updates
	if len(initial) != 0 {
		t.Fatalf("initial len=%d, want 0", len(initial))
	}

	store.Append(NewUserMessage("a", "", ""))
	store.Append(NewPendingAssistantMessage())

	latest := <-updates
	if len(latest) != 2 {
		t.Fatalf("latest len=%d, want 2", len(latest))
	}
	select {
	case extra := <-updates:
		t.Fatalf("unexpected extra snapshot %v", extra)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	store := NewStore()
	updates, cancel := store.Subscribe()
	<-updates
	cancel()
	cancel()

	store.Append(NewUserMessage("a", "", ""))
	if _, ok := <-updates; ok {
		t.Fatalf("channel should be closed")
	}
}

func TestReplaceCopiesInput(t *testing.T) {
	store := NewStore()
	store.Append(NewUserMessage("old", "", ""))

	restored := []Message{NewUserMessage("a", "", ""), NewAssistantMessage("b")}
	store.Replace(restored)
	restored[0].Content = "mutated"

	history := store.History()
	if len(history) != 2 || history[0].Content != "a" {
		t.Fatalf("history=%+v", history)
	}
}
