package models

import "fmt"

// TopicKind is the last segment of a unit topic
type TopicKind string

const (
	KindCommand TopicKind = "command"
	KindStatus  TopicKind = "status"
	KindSensors TopicKind = "sensors"
)

// ResubscribeTopic carries the local notification emitted after the broker
// session is re-established. It is never published to the bus.
const ResubscribeTopic = "internal/resubscribe"

// Topic builds exoskeleton/<module>/<kind>.
func Topic(module string, kind TopicKind) string {
	return fmt.Sprintf("exoskeleton/%s/%s", module, kind)
}

// Topics holds the three bus topics of one unit
type Topics struct {
	Command string
	Status  string
	Sensors string
}

// UnitTopics returns the topics of the named module.
func UnitTopics(module string) Topics {
	return Topics{
		Command: Topic(module, KindCommand),
		Status:  Topic(module, KindStatus),
		Sensors: Topic(module, KindSensors),
	}
}

// Message is one inbound bus message, or a local notification on
// ResubscribeTopic.
type Message struct {
	Topic   string
	Payload []byte
}
