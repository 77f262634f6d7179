// Package auth decides which participant may act on an item or thread.
package auth

import (
	"fmt"
	"strings"

	"helpling/internal/domain"
)

// ForbiddenError indicates the actor holds the wrong role for the action.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	return e.Reason
}

type Role string

const (
	RoleNone     Role = ""
	RoleCreator  Role = "creator"
	RoleHelpling Role = "helpling"
)

// RoleOf returns the role userID holds on item.
func RoleOf(item domain.Item, userID string) Role {
	switch {
	case userID == "":
		return RoleNone
	case userID == item.UserID:
		return RoleCreator
	case item.HelplingID != nil && *item.HelplingID == userID:
		return RoleHelpling
	}
	return RoleNone
}

// Closer is the role entitled to complete an item of kind: the helpling closes an
// offer, the creator closes a request. In both cases it is the party that received
// the help.
func Closer(kind domain.Kind) Role {
	if kind == domain.KindOffer {
		return RoleHelpling
	}
	return RoleCreator
}

func CanAccept(item domain.Item, userID string) error {
	if RoleOf(item, userID) == RoleCreator {
		return ForbiddenError{Reason: fmt.Sprintf("You cannot accept your own %s.", item.Kind)}
	}
	return nil
}

func CanComplete(item domain.Item, userID string) error {
	role := RoleOf(item, userID)
	if role == RoleNone {
		return ForbiddenError{Reason: fmt.Sprintf("Only participants can complete this %s.", item.Kind)}
	}
	if role != Closer(item.Kind) {
		switch item.Kind {
		case domain.KindOffer:
			return ForbiddenError{Reason: "Only the helpling can complete an offer."}
		default:
			return ForbiddenError{Reason: "Only the requester can complete a request."}
		}
	}
	return nil
}

func CanDelete(item domain.Item, userID string) error {
	if RoleOf(item, userID) != RoleCreator {
		return ForbiddenError{Reason: fmt.Sprintf("Only the creator can delete this %s.", item.Kind)}
	}
	return nil
}

func CanPost(thread domain.Thread, userID string) error {
	if !thread.HasParticipant(userID) {
		return ForbiddenError{Reason: "Only thread participants can post messages."}
	}
	return nil
}

// Subject trims a caller identity; blank identities are unauthenticated.
func Subject(id string) string {
	return strings.TrimSpace(id)
}
