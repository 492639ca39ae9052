package home

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/events"
	"github.com/hootworks/hootbot/proc"
	"github.com/hootworks/hootbot/sys"
)

func handleVoiceSkip(event *events.ApplicationCommandInteractionCreate) {
	sess := requireSession(event)
	if sess == nil {
		return
	}

	track, err := sess.Skip()
	if err != nil {
		respond(event, "Nothing is playing.", true)
		return
	}
	respond(event, "⏭️ Skipped: "+track.Title(), false)
}

func handleVoiceStop(event *events.ApplicationCommandInteractionCreate) {
	vm := proc.GetVoiceManager()
	sess := vm.GetSession(*event.GuildID())
	if sess == nil {
		respond(event, "Not connected to voice.", true)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	vm.Leave(ctx, *event.GuildID())
	respond(event, "⏹️ Stopped playback and left the channel.", false)
}

func handleNowPlaying(event *events.ApplicationCommandInteractionCreate) {
	sess := requireSession(event)
	if sess == nil {
		return
	}

	track := sess.NowPlaying()
	if track == nil {
		respond(event, "Nothing is playing.", true)
		return
	}

	line := "🎶 " + formatTrackLine(track)
	if up := track.Uploader(); up != "" {
		line += "\nby **" + up + "**"
	}
	line += "\n<" + track.URL + ">"

	container := sys.NewV2Container(sys.NewTextDisplay(line))
	if meta := track.Metadata(); meta != nil && meta.Thumbnail != "" {
		container = sys.NewV2Container(
			sys.NewSection(line, sys.NewThumbnail(meta.Thumbnail)),
		)
	}
	if err := sys.RespondInteractionContainerV2(*event.Client(), event.ApplicationCommandInteraction, container, false); err != nil {
		sys.LogVoice("Failed to send now playing view: %v", err)
	}
}
