package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
)

// ReactionGroup holds the users that applied one emoji to a message.
type ReactionGroup struct {
	Emoji   string
	UserIDs []uint64
}

// Reactions maps emoji to reacting users. Emoji keep insertion order and are
// encoded as a JSON object in that order, e.g. {"👍":[5,9],"❤️":[9]}.
type Reactions []ReactionGroup

func (r Reactions) index(emoji string) int {
	for i := range r {
		if r[i].Emoji == emoji {
			return i
		}
	}
	return -1
}

// Users returns the users that reacted with emoji, or nil.
func (r Reactions) Users(emoji string) []uint64 {
	if i := r.index(emoji); i >= 0 {
		return r[i].UserIDs
	}
	return nil
}

func (r Reactions) Has(emoji string, userID uint64) bool {
	return slices.Contains(r.Users(emoji), userID)
}

// Add returns a copy of r with userID present under emoji and whether
// anything changed. Reapplying an existing reaction changes nothing.
func (r Reactions) Add(emoji string, userID uint64) (Reactions, bool) {
	if r.Has(emoji, userID) {
		return r, false
	}
	out := r.clone()
	if i := out.index(emoji); i >= 0 {
		out[i].UserIDs = append(out[i].UserIDs, userID)
		return out, true
	}
	return append(out, ReactionGroup{Emoji: emoji, UserIDs: []uint64{userID}}), true
}

// Remove returns a copy of r without userID under emoji. An emoji left with
// no users is dropped entirely.
func (r Reactions) Remove(emoji string, userID uint64) (Reactions, bool) {
	if !r.Has(emoji, userID) {
		return r, false
	}
	out := r.clone()
	i := out.index(emoji)
	users := slices.DeleteFunc(out[i].UserIDs, func(id uint64) bool { return id == userID })
	if len(users) == 0 {
		return slices.Delete(out, i, i+1), true
	}
	out[i].UserIDs = users
	return out, true
}

func (r Reactions) clone() Reactions {
	out := make(Reactions, len(r))
	for i, g := range r {
		out[i] = ReactionGroup{Emoji: g.Emoji, UserIDs: slices.Clone(g.UserIDs)}
	}
	return out
}

func (r Reactions) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, g := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(g.Emoji)
		if err != nil {
			return nil, err
		}
		users := g.UserIDs
		if users == nil {
			users = []uint64{}
		}
		val, err := json.Marshal(users)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Reactions) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*r = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("reactions: expected object, got %v", tok)
	}
	var out Reactions
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("reactions: expected key, got %v", keyTok)
		}
		var users []uint64
		if err := dec.Decode(&users); err != nil {
			return fmt.Errorf("reactions: users for %q: %w", key, err)
		}
		if len(users) == 0 {
			continue
		}
		out = append(out, ReactionGroup{Emoji: key, UserIDs: users})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

func (Reactions) GormDataType() string {
	return "json"
}

func (r Reactions) Value() (driver.Value, error) {
	b, err := r.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *Reactions) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		return r.UnmarshalJSON(v)
	case string:
		return r.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("reactions: cannot scan %T", value)
	}
}
