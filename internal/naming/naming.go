// Package naming generates experiment names and backend-legal job identifiers.
package naming

import (
	"math/rand/v2"
	"strings"

	"github.com/oklog/ulid/v2"
)

const (
	// JobIDSeparator joins the sanitized parts of a job identifier.
	JobIDSeparator = "-"

	// MaxJobIDLength is the longest identifier the batch backend accepts.
	MaxJobIDLength = 63

	// suffixLength is the number of random characters appended to job ids.
	suffixLength = 8
)

var adjectives = []string{
	"agile", "amber", "bold", "brave", "brisk", "calm", "clever", "cosmic",
	"crimson", "daring", "eager", "electric", "fancy", "fearless", "gentle",
	"golden", "happy", "humble", "icy", "jolly", "keen", "lively", "lucky",
	"mellow", "misty", "nimble", "noble", "patient", "polished", "proud",
	"quick", "quiet", "rapid", "rustic", "shiny", "silent", "snowy", "steady",
	"sunny", "swift", "tidy", "vivid", "wandering", "witty", "zesty",
}

var nouns = []string{
	"anvil", "badger", "beacon", "boiler", "canyon", "comet", "conveyor",
	"crane", "delta", "dynamo", "falcon", "forge", "gantry", "glacier",
	"harbor", "heron", "lathe", "lynx", "meadow", "mill", "nebula", "orbit",
	"otter", "piston", "quarry", "raven", "river", "rotor", "shuttle",
	"spindle", "sprocket", "summit", "tandem", "tiger", "turbine", "valley",
	"vertex", "walrus", "willow", "winch", "zephyr",
}

// RandomName returns a memorable adjective-noun name such as "swift-lathe".
// Names are suggestions only; uniqueness is enforced elsewhere.
func RandomName() string {
	return adjectives[rand.IntN(len(adjectives))] + "-" + nouns[rand.IntN(len(nouns))]
}

// SanitizeIdentifier lower-cases text and drops every character outside
// [a-z0-9]. An empty result is not a usable identifier.
func SanitizeIdentifier(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NewJobID joins the sanitized parts with JobIDSeparator and appends a
// short random suffix, so repeated submissions with identical names never
// collide. Parts that sanitize to nothing are skipped. The result always
// starts with a letter and never exceeds MaxJobIDLength.
func NewJobID(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := SanitizeIdentifier(p); s != "" {
			clean = append(clean, s)
		}
	}

	prefix := strings.Join(clean, JobIDSeparator)
	if prefix == "" || prefix[0] < 'a' || prefix[0] > 'z' {
		prefix = "j" + prefix
	}

	limit := MaxJobIDLength - len(JobIDSeparator) - suffixLength
	if len(prefix) > limit {
		prefix = strings.TrimRight(prefix[:limit], JobIDSeparator)
	}
	return prefix + JobIDSeparator + randomSuffix()
}

// NewID generates a new ULID string for use as an entity identifier.
func NewID() string {
	return ulid.Make().String()
}

// NewRunID returns a lower-case ULID that sorts by creation time and is safe
// to use as a storage path segment.
func NewRunID() string {
	return strings.ToLower(ulid.Make().String())
}

// randomSuffix takes the tail of a ULID, which is pure entropy and lower-cases
// into the [a-z0-9] alphabet.
func randomSuffix() string {
	id := strings.ToLower(ulid.Make().String())
	return id[len(id)-suffixLength:]
}
