// Package reactions encodes per-message reaction state as a comma separated
// list of username:reactionId pairs with at most one entry per user.
package reactions

import (
	"strconv"
	"strings"
)

const (
	Heart = iota + 1
	Laugh
	Sad
	Angry
	ThumbsUp
	ThumbsDown
)

// Names maps reaction ids to their display names; index 0 is unused.
var Names = [...]string{"", "heart", "laugh", "sad", "angry", "thumbs_up", "thumbs_down"}

// Valid reports whether id is a known reaction.
func Valid(id int) bool {
	return id >= Heart && id <= ThumbsDown
}

// Entry is one user's reaction.
type Entry struct {
	Username   string
	ReactionID int
}

// Decode parses an encoding. Malformed pairs are skipped and only the first
// entry per username is kept.
func Decode(encoded string) []Entry {
	if encoded == "" {
		return nil
	}
	var out []Entry
	seen := map[string]struct{}{}
	for _, pair := range strings.Split(encoded, ",") {
		username, raw, ok := strings.Cut(pair, ":")
		if !ok || username == "" {
			continue
		}
		id, err := strconv.Atoi(raw)
		if err != nil || !Valid(id) {
			continue
		}
		if _, dup := seen[username]; dup {
			continue
		}
		seen[username] = struct{}{}
		out = append(out, Entry{Username: username, ReactionID: id})
	}
	return out
}

// Encode is the inverse of Decode.
func Encode(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(e.Username)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(e.ReactionID))
	}
	return b.String()
}

// Set upserts username's reaction. A nil or invalid reactionID clears it. The
// position of an existing entry is preserved; new entries are appended.
func Set(encoded, username string, reactionID *int) string {
	entries := Decode(encoded)
	remove := reactionID == nil || !Valid(*reactionID)

	for i, e := range entries {
		if e.Username != username {
			continue
		}
		if remove {
			entries = append(entries[:i], entries[i+1:]...)
		} else {
			entries[i].ReactionID = *reactionID
		}
		return Encode(entries)
	}

	if !remove {
		entries = append(entries, Entry{Username: username, ReactionID: *reactionID})
	}
	return Encode(entries)
}

// UserReaction returns username's reaction id, if any.
func UserReaction(encoded, username string) (int, bool) {
	for _, e := range Decode(encoded) {
		if e.Username == username {
			return e.ReactionID, true
		}
	}
	return 0, false
}

// Count returns the number of reactions.
func Count(encoded string) int {
	return len(Decode(encoded))
}
