package hub

import (
	"supportchat/pkg/types"
)

// ListenerFuncs adapts plain functions to the listener capabilities.
// Nil fields are skipped.
type ListenerFuncs struct {
	Load                    func(sessionID string)
	ContentChange           func(sessionID string)
	Error                   func(sessionID string, err error)
	SessionCreated          func(sessionID string)
	SatisfactionFormFetched func(sessionID string)
	TypingUpdate            func(sessionID string, indicator types.TypingIndicator)
	ChatEnded               func(sessionID string)
}

func (f *ListenerFuncs) OnLoad(sessionID string) {
	if f.Load != nil {
		f.Load(sessionID)
	}
}

func (f *ListenerFuncs) OnContentChange(sessionID string) {
	if f.ContentChange != nil {
		f.ContentChange(sessionID)
	}
}

func (f *ListenerFuncs) OnError(sessionID string, err error) {
	if f.Error != nil {
		f.Error(sessionID, err)
	}
}

func (f *ListenerFuncs) OnSessionCreated(sessionID string) {
	if f.SessionCreated != nil {
		f.SessionCreated(sessionID)
	}
}

func (f *ListenerFuncs) OnSatisfactionFormFetched(sessionID string) {
	if f.SatisfactionFormFetched != nil {
		f.SatisfactionFormFetched(sessionID)
	}
}

func (f *ListenerFuncs) OnTypingUpdate(sessionID string, indicator types.TypingIndicator) {
	if f.TypingUpdate != nil {
		f.TypingUpdate(sessionID, indicator)
	}
}

func (f *ListenerFuncs) OnChatEnded(sessionID string) {
	if f.ChatEnded != nil {
		f.ChatEnded(sessionID)
	}
}
