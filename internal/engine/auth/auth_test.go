package auth

import (
	"errors"
	"testing"

	"helpling/internal/domain"
)

func accepted(kind domain.Kind) domain.Item {
	h := "u2"
	return domain.Item{Kind: kind, UserID: "u1", HelplingID: &h, Status: domain.StatusAccepted}
}

func TestRoleOf(t *testing.T) {
	it := accepted(domain.KindOffer)
	cases := map[string]Role{"u1": RoleCreator, "u2": RoleHelpling, "u3": RoleNone, "": RoleNone}
	for user, want := range cases {
		if got := RoleOf(it, user); got != want {
			t.Fatalf("RoleOf(%q) = %q, want %q", user, got, want)
		}
	}
}

func TestCanAcceptRejectsCreator(t *testing.T) {
	it := domain.Item{Kind: domain.KindRequest, UserID: "u1"}
	err := CanAccept(it, "u1")
	var fe ForbiddenError
	if !errors.As(err, &fe) || fe.Reason != "You cannot accept your own request." {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CanAccept(it, "u2"); err != nil {
		t.Fatalf("non-creator should be allowed: %v", err)
	}
}

func TestCanCompleteCloser(t *testing.T) {
	cases := []struct {
		kind  domain.Kind
		actor string
		ok    bool
	}{
		{domain.KindOffer, "u2", true},
		{domain.KindOffer, "u1", false},
		{domain.KindRequest, "u1", true},
		{domain.KindRequest, "u2", false},
		{domain.KindRequest, "u3", false},
	}
	for _, c := range cases {
		err := CanComplete(accepted(c.kind), c.actor)
		if (err == nil) != c.ok {
			t.Fatalf("CanComplete(%s, %s) = %v, want ok=%v", c.kind, c.actor, err, c.ok)
		}
	}
}

func TestCanPostAndDelete(t *testing.T) {
	th := domain.Thread{UserIDs: []string{"u1", "u2"}}
	if CanPost(th, "u3") == nil || CanPost(th, "u2") != nil {
		t.Fatalf("unexpected CanPost result")
	}
	it := accepted(domain.KindOffer)
	if CanDelete(it, "u2") == nil || CanDelete(it, "u1") != nil {
		t.Fatalf("unexpected CanDelete result")
	}
}
