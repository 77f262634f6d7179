package domain

import "testing"

func strPtr(s string) *string { return &s }

func TestParseKind(t *testing.T) {
	for _, in := range []string{"offer", "request"} {
		k, err := ParseKind(in)
		if err != nil || string(k) != in {
			t.Fatalf("ParseKind(%q) = %q, %v", in, k, err)
		}
	}
	for _, in := range []string{"", "Offer", "offers", "task"} {
		if _, err := ParseKind(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestKindCollectionAndTitle(t *testing.T) {
	if KindOffer.Collection() != "offers" || KindRequest.Collection() != "requests" {
		t.Fatalf("unexpected collections")
	}
	if KindOffer.Title() != "Offer" || KindRequest.Title() != "Request" {
		t.Fatalf("unexpected titles")
	}
	if Kind("task").Valid() {
		t.Fatalf("task should not be a valid kind")
	}
}

func TestItemCounterpart(t *testing.T) {
	it := Item{UserID: "u1"}
	if got := it.Counterpart("u1"); got != "" {
		t.Fatalf("pending item has no counterpart, got %q", got)
	}
	it.HelplingID = strPtr("u2")
	if got := it.Counterpart("u1"); got != "u2" {
		t.Fatalf("creator counterpart = %q", got)
	}
	if got := it.Counterpart("u2"); got != "u1" {
		t.Fatalf("helpling counterpart = %q", got)
	}
	if got := it.Counterpart("u3"); got != "" {
		t.Fatalf("outsider counterpart = %q", got)
	}
	if !it.IsParticipant("u2") || it.IsParticipant("u3") || it.IsParticipant("") {
		t.Fatalf("unexpected participants")
	}
}

func TestThreadOther(t *testing.T) {
	th := Thread{UserIDs: []string{"u1", "u2"}}
	if th.Other("u1") != "u2" || th.Other("u2") != "u1" {
		t.Fatalf("unexpected other participant")
	}
	if th.Other("u3") != "" {
		t.Fatalf("outsider should have no other participant")
	}
	if (Thread{UserIDs: []string{"u1"}}).Other("u1") != "" {
		t.Fatalf("malformed thread should have no other participant")
	}
}
