//go:build !no_mqtt

package mqtt

import "strings"

// topicName sanitizes a device or source name for use as a topic level.
func topicName(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, strings.ToLower(s))
}

func bridgeStateTopic(prefix string) string { return prefix + "/bridge/state" }

func availabilityTopic(prefix, device string) string {
	return prefix + "/" + topicName(device) + "/availability"
}

func commandTopic(prefix, device string) string {
	return prefix + "/" + topicName(device) + "/set"
}

// stateTopic is <prefix>/<device> for the device's own messages and
// <prefix>/<device>/<source> for sensors heard through it.
func stateTopic(prefix, device, source string) string {
	t := prefix + "/" + topicName(device)
	if source != "" {
		t += "/" + topicName(source)
	}
	return t
}
