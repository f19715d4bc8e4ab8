package broker

import "strings"

// MatchTopic reports whether topic matches the subscription pattern.
//
// Levels are separated by '/'. A '*' level matches exactly one level and a
// level ending in '*' matches any level with that prefix. A trailing '>'
// matches one or more remaining levels.
func MatchTopic(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}
	pl := strings.Split(pattern, "/")
	tl := strings.Split(topic, "/")

	for i, p := range pl {
		if p == ">" && i == len(pl)-1 {
			return len(tl) > i
		}
		if i >= len(tl) {
			return false
		}
		switch {
		case p == "*":
		case strings.HasSuffix(p, "*"):
			if !strings.HasPrefix(tl[i], strings.TrimSuffix(p, "*")) {
				return false
			}
		default:
			if p != tl[i] {
				return false
			}
		}
	}
	return len(pl) == len(tl)
}

// validTopic rejects topics that cannot be published to.
func validTopic(topic string) bool {
	if topic == "" || strings.ContainsAny(topic, "\x00") {
		return false
	}
	for _, level := range strings.Split(topic, "/") {
		if level == "" || level == ">" || strings.Contains(level, "*") {
			return false
		}
	}
	return true
}
