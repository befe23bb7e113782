package errors

import "fmt"

type Underflow struct {
	MessageName string
	MsgSize     int
	MinimumSize int
}

func (e *Underflow) Error() string {
	return fmt.Sprintf("Message parsing underflowed (type=%s), provided %d bytes, needed at least %d", e.MessageName, e.MsgSize, e.MinimumSize)
}

type InvalidEnumValue struct {
	EnumName string
	Value    string
}

func (e *InvalidEnumValue) Error() string {
	return fmt.Sprintf("Invalid enum value=%q (enum: %s)", e.Value, e.EnumName)
}

type MissingFieldError struct {
	MessageName string
	FieldName   string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("Missing field %s in message type %s", e.FieldName, e.MessageName)
}

type NameCollision struct {
	CollisionContext string
	Name             string
}

func (e *NameCollision) Error() string {
	return fmt.Sprintf("Name collision for name '%s' in context '%s'", e.Name, e.CollisionContext)
}

type MissingService struct {
	Name string
}

func (e *MissingService) Error() string {
	return fmt.Sprintf("Missing service with name=%s", e.Name)
}

// Misuse reports a call made in an order the session does not allow, such as a
// second Connect or a Reconnect before any Connect.
type Misuse struct {
	Operation string
	Reason    string
}

func (e *Misuse) Error() string {
	return fmt.Sprintf("Invalid call to %s: %s", e.Operation, e.Reason)
}

type UnexpectedContent struct {
	CommandKind string
	ContentType string
}

func (e *UnexpectedContent) Error() string {
	return fmt.Sprintf("Unexpected content of type %s for %s command", e.ContentType, e.CommandKind)
}
