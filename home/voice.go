package home

import (
	"context"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/hootworks/hootbot/proc"
	"github.com/hootworks/hootbot/sys"
)

func init() {
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "voice",
		Description: "Music playback commands",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Play a track or add it to the queue",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "URL or search terms",
						Required:     true,
						Autocomplete: true,
					},
					discord.ApplicationCommandOptionString{
						Name:        "queue",
						Description: "Where to put the track",
						Required:    false,
						Choices: []discord.ApplicationCommandOptionChoiceString{
							{Name: "end (default)", Value: "end"},
							{Name: "next", Value: "next"},
							{Name: "now", Value: "now"},
						},
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "playlist",
				Description: "Queue a whole playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "url",
						Description: "Playlist URL",
						Required:    true,
					},
					discord.ApplicationCommandOptionInt{
						Name:        "count",
						Description: "How many tracks to queue",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip the current track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Stop playback and leave the voice channel",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "nowplaying",
				Description: "Show the current track",
			},
			discord.ApplicationCommandOptionSubCommandGroup{
				Name:        "queue",
				Description: "Queue management",
				Options: []discord.ApplicationCommandOptionSubCommand{
					{
						Name:        "show",
						Description: "Show the queue",
					},
					{
						Name:        "shuffle",
						Description: "Shuffle the queue",
					},
					{
						Name:        "remove",
						Description: "Remove a track by position",
						Options: []discord.ApplicationCommandOption{
							discord.ApplicationCommandOptionInt{
								Name:        "position",
								Description: "1-based queue position",
								Required:    true,
							},
						},
					},
					{
						Name:        "clear",
						Description: "Clear all pending tracks",
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stats",
				Description: "Most played tracks in this server",
			},
		},
	}, func(event *events.ApplicationCommandInteractionCreate) {
		data := event.SlashCommandInteractionData()

		if group := data.SubCommandGroupName; group != nil && *group == "queue" {
			if sub := data.SubCommandName; sub != nil {
				switch *sub {
				case "show":
					handleQueueShow(event)
				case "shuffle":
					handleQueueShuffle(event)
				case "remove":
					handleQueueRemove(event, data)
				case "clear":
					handleQueueClear(event)
				}
			}
			return
		}

		sub := data.SubCommandName
		if sub == nil {
			return
		}
		switch *sub {
		case "play":
			handleVoicePlay(event, data)
		case "playlist":
			handleVoicePlaylist(event, data)
		case "skip":
			handleVoiceSkip(event)
		case "stop":
			handleVoiceStop(event)
		case "nowplaying":
			handleNowPlaying(event)
		case "stats":
			handleVoiceStats(event)
		}
	})

	sys.RegisterAutocompleteHandler("voice", handleVoiceAutocomplete)

	sys.RegisterVoiceStateUpdateHandler(func(event *events.GuildVoiceStateUpdate) {
		// Only care about the bot itself being moved out of voice.
		if event.VoiceState.UserID != event.Client().ApplicationID {
			return
		}
		if event.VoiceState.ChannelID == nil {
			proc.GetVoiceManager().HandleDisconnect(event.VoiceState.GuildID)
		}
	})
}

// requireSession resolves the caller's voice channel and returns a
// connected session, responding with an error message when it cannot.
func requireSession(event *events.ApplicationCommandInteractionCreate) *proc.VoiceSession {
	vm := proc.GetVoiceManager()
	sess := vm.GetSession(*event.GuildID())
	if sess == nil {
		respond(event, "Nothing is playing in this server.", true)
		return nil
	}
	return sess
}

// joinCallerChannel joins (or reuses) the voice channel the caller sits in.
func joinCallerChannel(ctx context.Context, event *events.ApplicationCommandInteractionCreate) (*proc.VoiceSession, error) {
	voiceState, ok := event.Client().Caches.VoiceState(*event.GuildID(), event.User().ID)
	if !ok || voiceState.ChannelID == nil {
		return nil, proc.ErrNotConnected
	}

	vm := proc.GetVoiceManager()
	return vm.Join(ctx, event.Client(), *event.GuildID(), *voiceState.ChannelID, event.Channel().ID())
}

func respond(event *events.ApplicationCommandInteractionCreate, content string, ephemeral bool) {
	if err := sys.RespondInteractionV2(*event.Client(), event.ApplicationCommandInteraction, content, ephemeral); err != nil {
		sys.LogVoice("Failed to respond to interaction: %v", err)
	}
}

func editResponse(event *events.ApplicationCommandInteractionCreate, content string) {
	if err := sys.EditInteractionV2(*event.Client(), event.ApplicationCommandInteraction, content); err != nil {
		sys.LogVoice("Failed to edit interaction response: %v", err)
	}
}

func editContainerResponse(event *events.ApplicationCommandInteractionCreate, container sys.Container) {
	if err := sys.EditInteractionContainerV2(*event.Client(), event.ApplicationCommandInteraction, container); err != nil {
		sys.LogVoice("Failed to edit interaction response: %v", err)
	}
}
