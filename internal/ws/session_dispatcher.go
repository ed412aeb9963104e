package ws

import (
	"context"

	"go.uber.org/zap"

	"github.com/xiaoai/assistant/internal/media"
	"github.com/xiaoai/assistant/internal/protocol"
)

type incomingHandler func(context.Context, protocol.ClientCommand)

func (c *client) dispatchIncoming(ctx context.Context, cmd protocol.ClientCommand) {
	handlers := map[string]incomingHandler{
		protocol.CmdTextInput:         c.onTextInput,
		protocol.CmdUpdateInput:       c.onUpdateInput,
		protocol.CmdStartListening:    c.onStartListening,
		protocol.CmdStopListening:     c.onStopListening,
		protocol.CmdMicAudioData:      c.onMicAudioData,
		protocol.CmdSelectImage:       c.onSelectImage,
		protocol.CmdSelectVideo:       c.onSelectVideo,
		protocol.CmdClearMedia:        c.onClearMedia,
		protocol.CmdStopSpeaking:      c.onStopSpeaking,
		protocol.CmdClearError:        c.onClearError,
		protocol.CmdClearConversation: c.onClearConversation,
		protocol.CmdFetchHistoryList:  c.onFetchHistoryList,
		protocol.CmdFetchHistory:      c.onFetchAndSetHistory,
		protocol.CmdCreateHistory:     c.onCreateNewHistory,
		protocol.CmdDeleteHistory:     c.onDeleteHistory,
		protocol.CmdHeartbeat:         c.onNoop,
	}

	if handler, ok := handlers[cmd.Type]; ok {
		handler(ctx, cmd)
		return
	}
	c.logger.Debug("ws unknown message type", zap.String("type", cmd.Type))
}

func (c *client) onTextInput(_ context.Context, cmd protocol.ClientCommand) {
	c.orch.Submit(cmd.Text)
}

func (c *client) onUpdateInput(_ context.Context, cmd protocol.ClientCommand) {
	c.orch.UpdateInput(cmd.Text)
}

func (c *client) onStartListening(ctx context.Context, _ protocol.ClientCommand) {
	c.mic.reset()
	c.orch.StartListening(ctx)
}

func (c *client) onStopListening(_ context.Context, _ protocol.ClientCommand) {
	c.orch.StopListening()
	c.mic.reset()
}

func (c *client) onMicAudioData(_ context.Context, cmd protocol.ClientCommand) {
	if len(cmd.Audio) == 0 && cmd.AudioPCM == "" {
		return
	}
	pcm, err := c.mic.convert(cmd)
	if err != nil {
		c.logger.Warn("mic audio dropped", zap.Error(err))
		c.sendError(err.Error())
		return
	}
	c.orch.FeedAudio(pcm)
}

func (c *client) onSelectImage(_ context.Context, cmd protocol.ClientCommand) {
	if !c.validRef(cmd.Ref, media.KindImage) {
		return
	}
	c.orch.SelectImage(cmd.Ref)
}

func (c *client) onSelectVideo(_ context.Context, cmd protocol.ClientCommand) {
	if !c.validRef(cmd.Ref, media.KindVideo) {
		return
	}
	c.orch.SelectVideo(cmd.Ref)
}

func (c *client) onClearMedia(_ context.Context, _ protocol.ClientCommand) {
	c.orch.ClearMedia()
}

func (c *client) onStopSpeaking(_ context.Context, _ protocol.ClientCommand) {
	c.orch.StopSpeaking()
	c.out.flush()
}

func (c *client) onClearError(_ context.Context, _ protocol.ClientCommand) {
	c.orch.ClearError()
}

func (c *client) onClearConversation(_ context.Context, _ protocol.ClientCommand) {
	c.orch.ClearConversation()
}

func (c *client) onFetchHistoryList(_ context.Context, _ protocol.ClientCommand) {
	if c.handler.deps.Archive == nil {
		c.sendJSON(protocol.HistoryList{Type: protocol.EventHistoryList})
		return
	}
	c.sendJSON(protocol.HistoryList{
		Type:      protocol.EventHistoryList,
		Histories: c.handler.deps.Archive.List(),
	})
}

func (c *client) onFetchAndSetHistory(_ context.Context, cmd protocol.ClientCommand) {
	archive := c.handler.deps.Archive
	if cmd.HistoryUID == "" || archive == nil {
		return
	}
	messages, err := archive.Get(cmd.HistoryUID)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.orch.RestoreHistory(cmd.HistoryUID, messages)
	c.sendJSON(protocol.HistoryData{
		Type:       protocol.EventHistoryData,
		HistoryUID: cmd.HistoryUID,
		Messages:   messages,
	})
}

func (c *client) onCreateNewHistory(_ context.Context, _ protocol.ClientCommand) {
	archive := c.handler.deps.Archive
	if archive == nil {
		return
	}
	historyUID, err := archive.Create()
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.orch.StartHistory(historyUID)
	c.sendJSON(protocol.HistoryCreated{Type: protocol.EventHistoryCreated, HistoryUID: historyUID})
}

func (c *client) onDeleteHistory(_ context.Context, cmd protocol.ClientCommand) {
	archive := c.handler.deps.Archive
	if cmd.HistoryUID == "" || archive == nil {
		return
	}
	success := archive.Delete(cmd.HistoryUID)
	if success {
		c.orch.ForgetHistory(cmd.HistoryUID)
	}
	c.sendJSON(protocol.HistoryDeleted{
		Type:       protocol.EventHistoryDeleted,
		Success:    success,
		HistoryUID: cmd.HistoryUID,
	})
}

func (c *client) onNoop(_ context.Context, _ protocol.ClientCommand) {}

func (c *client) validRef(ref string, want media.Kind) bool {
	if kind, ok := media.KindOf(ref); !ok || kind != want {
		c.sendError(media.ErrUnknownRef.Error())
		return false
	}
	return true
}
