package discord

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/bwmarrin/discordgo"
	logging "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/require"
	"github.com/textileio/fleetwatch/chatops"
)

func TestMain(m *testing.M) {
	logging.SetAllLoggers(logging.LevelError)
	os.Exit(m.Run())
}

func TestRespond(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fleetwatch_audit.log")
	require.NoError(t, ioutil.WriteFile(path, []byte("[INFO] log initialized\n"), 0644))
	cmds := commands{
		"health": {Text: "Mainnet is healthy!"},
		"logs":   {Text: chatops.LogReplyText, AttachmentPath: path},
		"broken": {Text: "x", AttachmentPath: filepath.Join(t.TempDir(), "missing.log")},
	}
	msg := func(content string, bot bool) *discordgo.Message {
		return &discordgo.Message{
			ID:        "42",
			ChannelID: "c1",
			GuildID:   "g1",
			Content:   content,
			Author:    &discordgo.User{ID: "u1", Bot: bot},
		}
	}

	t.Run("Text", func(t *testing.T) {
		send, closer, ok, err := respond(ctx, cmds, msg("health", false))
		require.NoError(t, err)
		require.True(t, ok)
		defer closer()
		require.Equal(t, "Mainnet is healthy!", send.Content)
		require.Empty(t, send.Files)
		require.Equal(t, "42", send.Reference.MessageID)
		require.Equal(t, "c1", send.Reference.ChannelID)
	})
	t.Run("Attachment", func(t *testing.T) {
		send, closer, ok, err := respond(ctx, cmds, msg("logs", false))
		require.NoError(t, err)
		require.True(t, ok)
		defer closer()
		require.Len(t, send.Files, 1)
		require.Equal(t, "fleetwatch_audit.log", send.Files[0].Name)
		b, err := ioutil.ReadAll(send.Files[0].Reader)
		require.NoError(t, err)
		require.Equal(t, "[INFO] log initialized\n", string(b))
	})
	t.Run("IgnoresBots", func(t *testing.T) {
		_, _, ok, err := respond(ctx, cmds, msg("health", true))
		require.NoError(t, err)
		require.False(t, ok)
	})
	t.Run("IgnoresChatter", func(t *testing.T) {
		_, _, ok, err := respond(ctx, cmds, msg("good morning", false))
		require.NoError(t, err)
		require.False(t, ok)
	})
	t.Run("MissingAttachment", func(t *testing.T) {
		_, _, ok, err := respond(ctx, cmds, msg("broken", false))
		require.Error(t, err)
		require.False(t, ok)
	})
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	_, err := New("", "970023234869276773")
	require.Error(t, err)
	_, err = New("token", "")
	require.Error(t, err)
}

type commands map[string]chatops.Reply

func (c commands) Handle(_ context.Context, text string) (chatops.Reply, bool) {
	r, ok := c[text]
	return r, ok
}
