package broker

import (
	"strings"

	"github.com/Sanglm2207/my-microservices-app/internal/events"
)

// routes reports whether a binding key accepts a routing key for the given
// exchange kind. Topic bindings support '*' (one word) and '#' (zero or more).
func routes(kind events.ExchangeKind, bindingKey, routingKey string) bool {
	if kind != events.KindTopic {
		return bindingKey == routingKey
	}
	return matchWords(strings.Split(bindingKey, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, words []string) bool {
	if len(pattern) == 0 {
		return len(words) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(words); i++ {
			if matchWords(pattern[1:], words[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(words) > 0 && matchWords(pattern[1:], words[1:])
	default:
		return len(words) > 0 && pattern[0] == words[0] && matchWords(pattern[1:], words[1:])
	}
}
