package tools

import (
	"context"
	"fmt"
)

// SetVolumeArgs are the arguments for the set_volume tool.
type SetVolumeArgs struct {
	// Level is the target playback volume from 0 (mute) to 100.
	Level int `json:"level" jsonschema:"target playback volume from 0 (mute) to 100"`
}

// NewSessionTools returns the tools that act on the calling voice session:
// set_volume and end_conversation. Both resolve the session through the
// ambient [Scope]; outside a session they report an error to the model
// instead of doing nothing silently.
func NewSessionTools() []Tool {
	setVolume := MustNewTool("set_volume",
		"Set the speaker playback volume. Use when the user asks to make it louder, quieter, or to mute.",
		func(ctx context.Context, args SetVolumeArgs) (Result, error) {
			scope := ScopeFrom(ctx)
			if scope == nil || scope.SetVolume == nil {
				return Errorf("no active session to adjust"), nil
			}
			level := args.Level
			if level < 0 {
				level = 0
			}
			if level > 100 {
				level = 100
			}
			scope.SetVolume(level)
			return Success(fmt.Sprintf("volume set to %d", level)), nil
		})

	endConversation := MustNewTool("end_conversation",
		"End the current conversation. Use when the user says goodbye or indicates they are finished talking.",
		func(ctx context.Context, _ struct{}) (Result, error) {
			scope := ScopeFrom(ctx)
			if scope == nil || scope.EndConversation == nil {
				return Errorf("no active session to end"), nil
			}
			scope.EndConversation()
			return Success("the conversation will end after this response"), nil
		})

	return []Tool{setVolume, endConversation}
}
