// Package convid derives and parses the identifiers that address a
// conversation: the messages exchanged by two users about one property.
package convid

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	ErrInvalidFormat  = errors.New("invalid conversation id")
	ErrNotParticipant = errors.New("not a participant")
)

var pattern = regexp.MustCompile(`^property_([0-9]+)_users_([0-9]+)_([0-9]+)$`)

// ID is a parsed conversation identifier. UserLow is never greater than UserHigh.
type ID struct {
	PropertyID uint64
	UserLow    uint64
	UserHigh   uint64
}

// New orders the two users so that New(p, a, b) == New(p, b, a).
func New(propertyID, userA, userB uint64) ID {
	if userA > userB {
		userA, userB = userB, userA
	}
	return ID{PropertyID: propertyID, UserLow: userA, UserHigh: userB}
}

// Derive formats the canonical identifier property_{p}_users_{min}_{max}.
func Derive(propertyID, userA, userB uint64) string {
	return New(propertyID, userA, userB).String()
}

func (id ID) String() string {
	return fmt.Sprintf("property_%d_users_%d_%d", id.PropertyID, id.UserLow, id.UserHigh)
}

// Parse reads the property_{p}_users_{a}_{b} shape. The user ids may come in
// either order and are normalised as in New; any other shape is
// ErrInvalidFormat.
func Parse(s string) (ID, error) {
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return ID{}, ErrInvalidFormat
	}
	var nums [3]uint64
	for i := range nums {
		n, err := strconv.ParseUint(m[i+1], 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		nums[i] = n
	}
	return New(nums[0], nums[1], nums[2]), nil
}

// Other returns the participant that is not userID.
func (id ID) Other(userID uint64) (uint64, error) {
	switch userID {
	case id.UserLow:
		return id.UserHigh, nil
	case id.UserHigh:
		return id.UserLow, nil
	}
	return 0, ErrNotParticipant
}

func (id ID) Has(userID uint64) bool {
	return userID == id.UserLow || userID == id.UserHigh
}
