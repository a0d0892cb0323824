package broker

import "strings"

// MatchTopic reports whether topic is matched by filter under MQTT wildcard
// rules: "+" matches one level and a trailing "#" matches the rest.
func MatchTopic(filter string, topic string) bool {
	// Wildcards in the first level never match $-prefixed system topics.
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}
	if filter == "#" {
		return true
	}

	topicLevels := strings.Split(topic, "/")
	filterLevels := strings.Split(filter, "/")

	for i, f := range filterLevels {
		if f == "#" {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if f != "+" && f != topicLevels[i] {
			return false
		}
	}

	return len(topicLevels) == len(filterLevels)
}

// ValidTopicName reports whether name can be used as a PUBLISH topic.
func ValidTopicName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "+#\x00")
}

// ValidFilter reports whether filter is a well-formed subscription filter.
func ValidFilter(filter string) bool {
	if filter == "" || strings.ContainsRune(filter, 0) {
		return false
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return false
		}
		if strings.Contains(level, "+") && level != "+" {
			return false
		}
	}
	return true
}
