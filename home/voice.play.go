package home

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/hootworks/hootbot/proc"
	"github.com/hootworks/hootbot/sys"
)

func handleVoicePlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	query := data.String("query")
	mode, _ := data.OptString("queue")
	if mode == "end" {
		mode = ""
	}

	// Instant defer; extraction can take seconds.
	_ = event.DeferCreateMessage(false)

	ctx := context.Background()
	sess, err := joinCallerChannel(ctx, event)
	if err != nil {
		if err == proc.ErrNotConnected {
			editResponse(event, "Join a voice channel first.")
		} else {
			sys.LogVoice("Voice join failed: %v", err)
			editResponse(event, "Failed to join voice: "+err.Error())
		}
		return
	}

	vm := proc.GetVoiceManager()
	added, skipped, err := vm.PlayURL(ctx, sess, query, mode, event.User().ID, event.Channel().ID())
	if err != nil {
		sys.LogVoice("Enqueue failed: %v", err)
		editResponse(event, "Failed to queue that: "+err.Error())
		return
	}

	switch {
	case len(added) == 1:
		line := "✅ Added to queue: **" + added[0].Title() + "**"
		if mode == "now" {
			line = "🎶 Playing now: **" + added[0].Title() + "**"
		}
		container := sys.NewV2Container(sys.NewTextDisplay(line))
		if meta := added[0].Metadata(); meta != nil && meta.Thumbnail != "" {
			container = sys.NewV2Container(sys.NewSection(line, sys.NewThumbnail(meta.Thumbnail)))
		}
		editContainerResponse(event, container)
	default:
		msg := fmt.Sprintf("✅ Added %d tracks to the queue.", len(added))
		if skipped > 0 {
			msg += fmt.Sprintf(" Skipped %d duplicate(s).", skipped)
		}
		editResponse(event, msg)
	}
}

func handleVoicePlaylist(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	url := data.String("url")
	count, _ := data.OptInt("count")

	_ = event.DeferCreateMessage(false)

	ctx := context.Background()
	sess, err := joinCallerChannel(ctx, event)
	if err != nil {
		if err == proc.ErrNotConnected {
			editResponse(event, "Join a voice channel first.")
		} else {
			editResponse(event, "Failed to join voice: "+err.Error())
		}
		return
	}

	vm := proc.GetVoiceManager()
	entries, err := vm.ResolvePlaylist(ctx, url, count)
	if err != nil {
		sys.LogVoice("Playlist extraction failed: %v", err)
		editResponse(event, "Could not read that playlist: "+err.Error())
		return
	}
	if len(entries) == 0 {
		editResponse(event, "That playlist is empty.")
		return
	}

	added, skipped := sess.EnqueueBulk(entries, event.User().ID, event.Channel().ID())
	msg := fmt.Sprintf("✅ Queued %d of %d playlist tracks.", len(added), len(entries))
	if skipped > 0 {
		msg += fmt.Sprintf(" Skipped %d duplicate(s).", skipped)
	}
	editResponse(event, msg)
}

func handleVoiceAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused := event.Data.Focused()
	if focused.Name != "query" {
		return
	}
	query := focused.String()
	if query == "" {
		_ = event.AutocompleteResult(nil)
		return
	}

	vm := proc.GetVoiceManager()
	results, err := vm.Search(query)
	if err != nil {
		_ = event.AutocompleteResult(nil)
		return
	}

	var choices []discord.AutocompleteChoice
	for i, r := range results {
		if i >= 25 {
			break
		}
		name := r.Title
		if len(name) > 100 {
			name = name[:97] + "..."
		}

		// URL as value so selection plays instantly.
		val := r.URL
		if len(val) > 100 {
			val = name
		}

		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  name,
			Value: val,
		})
	}
	_ = event.AutocompleteResult(choices)
}
