package gmq

import "regexp"

// namePattern is the queue-naming grammar shared by both transports:
// one or more path segments of alphanumerics/underscore/hyphen, joined
// by '.' or '_'.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+([._][A-Za-z0-9_-]+)*$`)

// ValidName reports whether name satisfies the transport queue naming grammar.
func ValidName(name string) bool {
	return name != "" && namePattern.MatchString(name)
}

// clientIDPattern is the MQTT client-identifier grammar (§6).
var clientIDPattern = regexp.MustCompile(`^[0-9A-Za-z-]{1,23}$`)

// ValidClientID reports whether id satisfies the MQTT client-id grammar.
func ValidClientID(id string) bool {
	return clientIDPattern.MatchString(id)
}

// BuildQueueName assembles the "{prefix}.{unit_or_'_'}.{name}.{logical}"
// queue-naming grammar used by every manager-owned queue (§4.4). An
// empty unit is encoded as the literal segment "_" (public network).
func BuildQueueName(prefix, unit, name, logical string) string {
	if unit == "" {
		unit = "_"
	}
	return prefix + "." + unit + "." + name + "." + logical
}
