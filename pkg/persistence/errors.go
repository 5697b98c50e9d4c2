package persistence

import "errors"

var (
	ErrJourneyNotFound      = errors.New("journey not found")
	ErrTriggerNotFound      = errors.New("trigger not found")
	ErrNodeNotFound         = errors.New("node not found")
	ErrRunNotFound          = errors.New("run not found")
	ErrStepNotFound         = errors.New("run step not found")
	ErrLeadNotFound         = errors.New("lead not found")
	ErrContactNotFound      = errors.New("contact not found")
	ErrConversationNotFound = errors.New("conversation not found")
)

func IsJourneyNotFound(err error) bool {
	return errors.Is(err, ErrJourneyNotFound)
}

func IsNodeNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound)
}

func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

func IsStepNotFound(err error) bool {
	return errors.Is(err, ErrStepNotFound)
}

func IsLeadNotFound(err error) bool {
	return errors.Is(err, ErrLeadNotFound)
}

func IsContactNotFound(err error) bool {
	return errors.Is(err, ErrContactNotFound)
}

func IsNotFound(err error) bool {
	return IsJourneyNotFound(err) ||
		errors.Is(err, ErrTriggerNotFound) ||
		IsNodeNotFound(err) ||
		IsRunNotFound(err) ||
		IsStepNotFound(err) ||
		IsLeadNotFound(err) ||
		errors.Is(err, ErrContactNotFound) ||
		errors.Is(err, ErrConversationNotFound)
}
