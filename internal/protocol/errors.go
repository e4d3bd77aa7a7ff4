package protocol

import "fmt"

type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

type MissingFieldError struct {
	MessageName string
	FieldName   string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing field %s in %s", e.FieldName, e.MessageName)
}

type InvalidSnapshotError struct {
	Mode   Mode
	Reason string
}

func (e *InvalidSnapshotError) Error() string {
	if e.Mode == "" {
		return fmt.Sprintf("invalid snapshot: %s", e.Reason)
	}
	return fmt.Sprintf("invalid %s snapshot: %s", e.Mode, e.Reason)
}
