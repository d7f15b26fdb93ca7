package ingest

import "fmt"

var errMissingTimestamp = fmt.Errorf("missing or unrecognized timestamp")

func errUnrecognizedEvent(event string) error {
	return fmt.Errorf("unrecognized event %q for motion topic", event)
}

func errUnrecognizedTopicKind(kind string) error {
	return fmt.Errorf("unrecognized topic kind %q", kind)
}
