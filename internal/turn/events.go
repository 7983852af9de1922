package turn

import (
	"time"

	"github.com/agentcore/agentcore/pkg/core"
)

func thinkingEvent(sessionID, turnID, textChunk string) core.Event {
	return core.Event{SessionID: sessionID, TurnID: turnID, Type: core.EventThinking, Time: time.Now(), TextChunk: textChunk}
}

func toolCallEvent(sessionID, turnID string, call core.ToolCall) core.Event {
	return core.Event{
		SessionID: sessionID, TurnID: turnID, Type: core.EventToolCall, Time: time.Now(),
		CallID: call.ID, ToolName: call.Name, Args: call.Arguments,
	}
}

func toolResultEvent(sessionID, turnID string, result core.ToolResult) core.Event {
	return core.Event{
		SessionID: sessionID, TurnID: turnID, Type: core.EventToolResult, Time: time.Now(),
		CallID: result.CallID, OK: result.OK, DurationMS: result.DurationMS, Content: result.Content,
	}
}

func contentEvent(sessionID, turnID, text string) core.Event {
	return core.Event{SessionID: sessionID, TurnID: turnID, Type: core.EventContent, Time: time.Now(), Text: text}
}

func yieldEvent(sessionID, turnID string, call core.ToolCall, reason string) core.Event {
	return core.Event{
		SessionID: sessionID, TurnID: turnID, Type: core.EventYield, Time: time.Now(),
		CallID: call.ID, ToolName: call.Name, Args: call.Arguments, Reason: reason,
	}
}

func doneEvent(sessionID, turnID, reason string, usage core.Usage) core.Event {
	return core.Event{
		SessionID: sessionID, TurnID: turnID, Type: core.EventDone, Time: time.Now(),
		DoneReason: reason, Usage: &usage,
	}
}

func errorEvent(sessionID, turnID string, code core.ErrorCode, message string) core.Event {
	return core.Event{SessionID: sessionID, TurnID: turnID, Type: core.EventError, Time: time.Now(), Code: code, Message: message}
}
