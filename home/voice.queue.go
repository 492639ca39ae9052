package home

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/hootworks/hootbot/proc"
	"github.com/hootworks/hootbot/sys"
)

const queueDisplayLimit = 15

func handleQueueShow(event *events.ApplicationCommandInteractionCreate) {
	sess := requireSession(event)
	if sess == nil {
		return
	}

	current, queue := sess.QueueSnapshot()
	if current == nil && len(queue) == 0 {
		respond(event, "The queue is empty.", true)
		return
	}

	var components []any
	if current != nil {
		components = append(components, sys.NewTextDisplay("**Now playing**\n"+formatTrackLine(current)))
	}
	if len(queue) > 0 {
		if len(components) > 0 {
			components = append(components, sys.NewSeparator(true))
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("**Up next** (%d)\n", len(queue)))
		for i, t := range queue {
			if i >= queueDisplayLimit {
				sb.WriteString(fmt.Sprintf("…and %d more\n", len(queue)-queueDisplayLimit))
				break
			}
			sb.WriteString(fmt.Sprintf("`%2d.` %s\n", i+1, formatTrackLine(t)))
		}
		components = append(components, sys.NewTextDisplay(sb.String()))
	}

	container := sys.NewV2Container(components...)
	if err := sys.RespondInteractionContainerV2(*event.Client(), event.ApplicationCommandInteraction, container, false); err != nil {
		sys.LogVoice("Failed to send queue view: %v", err)
	}
}

func formatTrackLine(t *proc.Track) string {
	title := sys.Truncate(t.Title(), 80)
	if d := t.Duration(); d > 0 {
		return fmt.Sprintf("%s `[%s]`", title, sys.FormatTrackDuration(d))
	}
	return title
}

func handleQueueShuffle(event *events.ApplicationCommandInteractionCreate) {
	sess := requireSession(event)
	if sess == nil {
		return
	}

	if err := sess.Shuffle(); err != nil {
		if errors.Is(err, proc.ErrTooFewToShuffle) {
			respond(event, "Not enough tracks to shuffle ("+err.Error()+").", true)
		} else {
			respond(event, "Shuffle failed: "+err.Error(), true)
		}
		return
	}
	respond(event, fmt.Sprintf("🔀 Shuffled %d tracks.", sess.QueueLen()), false)
}

func handleQueueRemove(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	sess := requireSession(event)
	if sess == nil {
		return
	}

	pos := data.Int("position")
	track, err := sess.Remove(pos)
	if err != nil {
		respond(event, "Cannot remove: "+err.Error(), true)
		return
	}
	respond(event, "🗑️ Removed: "+track.Title(), false)
}

func handleQueueClear(event *events.ApplicationCommandInteractionCreate) {
	sess := requireSession(event)
	if sess == nil {
		return
	}

	n := sess.Clear()
	respond(event, fmt.Sprintf("🧹 Cleared %d track(s) from the queue.", n), false)
}

func handleVoiceStats(event *events.ApplicationCommandInteractionCreate) {
	if sys.DB == nil {
		respond(event, "Play history is not available.", true)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	guildID := *event.GuildID()
	top, err := sys.GetTopTracks(ctx, guildID, 10)
	if err != nil {
		respond(event, "Failed to load stats: "+err.Error(), true)
		return
	}
	total, _ := sys.GetPlayCount(ctx, guildID)

	if len(top) == 0 {
		respond(event, "No tracks played here yet.", true)
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**Most played** (%d plays total)\n", total))
	for i, t := range top {
		sb.WriteString(fmt.Sprintf("`%2d.` %s (%d plays)\n", i+1, sys.Truncate(t.Title, 70), t.Plays))
	}

	container := sys.NewV2Container(sys.NewTextDisplay(sb.String()))
	if err := sys.RespondInteractionContainerV2(*event.Client(), event.ApplicationCommandInteraction, container, false); err != nil {
		sys.LogVoice("Failed to send stats view: %v", err)
	}
}
