package usecase

import "errors"

var (
	// ErrBusy is returned when another operation holds the gate.
	ErrBusy = errors.New("another operation is in progress")
	// ErrNoConversation is returned when an action needs an active conversation.
	ErrNoConversation = errors.New("no active conversation")
	// ErrNotRecording is returned when stopping without an active capture.
	ErrNotRecording = errors.New("no active recording")
	// ErrRecordingActive is returned when a capture is already running.
	ErrRecordingActive = errors.New("recording already in progress")
	// ErrEmptyCapture is returned when a stopped capture holds no audio.
	ErrEmptyCapture = errors.New("no audio captured")
	// ErrEmptyResponse is returned when the backend answered without messages.
	ErrEmptyResponse = errors.New("backend returned no messages")
	// ErrLoginAfterRegister is returned when registration worked but the follow-up login did not.
	ErrLoginAfterRegister = errors.New("account created but authentication failed")
)
