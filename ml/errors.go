package ml

import (
	"errors"
	"fmt"
)

var (
	ErrArtifactNotFound = errors.New("model artifact not found")
	ErrDeserialization  = errors.New("model artifact could not be deserialized")
	ErrInference        = errors.New("inference failed")
	ErrNotTrained       = errors.New("model not trained")
)

// ErrorKind classifies model failures so callers can map them to responses
// without string matching.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindArtifactNotFound
	KindDeserializationFailed
	KindInferenceFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindArtifactNotFound:
		return "artifact_not_found"
	case KindDeserializationFailed:
		return "deserialization_failed"
	case KindInferenceFailed:
		return "inference_failed"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindArtifactNotFound:
		return ErrArtifactNotFound
	case KindDeserializationFailed:
		return ErrDeserialization
	case KindInferenceFailed:
		return ErrInference
	default:
		return nil
	}
}

type ModelError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *ModelError) Error() string {
	msg := e.Kind.sentinel()
	if msg == nil {
		msg = errors.New("model error")
	}
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", msg, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", msg, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%v: %s", msg, e.Path)
	default:
		return msg.Error()
	}
}

func (e *ModelError) Unwrap() error { return e.Err }

func (e *ModelError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf reports the kind of the first *ModelError in err's chain.
func KindOf(err error) ErrorKind {
	var me *ModelError
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindUnknown
}

func inferenceError(format string, args ...any) error {
	return &ModelError{Kind: KindInferenceFailed, Err: fmt.Errorf(format, args...)}
}

func deserializationError(path string, err error) error {
	return &ModelError{Kind: KindDeserializationFailed, Path: path, Err: err}
}
