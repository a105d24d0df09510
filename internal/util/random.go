// Package util provides utility functions for the sales assistant.
package util

import "math/rand/v2"

// PickRandom returns one element of options chosen uniformly at random,
// or "" for an empty slice. Used for follow-up message variation so
// repeated nudges do not read as canned.
func PickRandom(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[rand.IntN(len(options))]
}
