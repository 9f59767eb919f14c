package protocol

import "fmt"

// NATS subject constants and helpers.
const (
	SubjectAllEvents = "exoswitch.events.>"
)

// Event sources.
const (
	SourceMachine = "machine"
	SourceDaemon  = "daemon"
)

func SubjectEvents(source string) string {
	return fmt.Sprintf("exoswitch.events.%s", source)
}
