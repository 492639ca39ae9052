package home

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/hootworks/hootbot/proc"
	"github.com/hootworks/hootbot/sys"
)

func init() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "debug",
		Description:              "Bot diagnostics (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "status",
				Description: "Show runtime status",
			},
		},
	}, func(event *events.ApplicationCommandInteractionCreate) {
		data := event.SlashCommandInteractionData()
		if sub := data.SubCommandName; sub != nil && *sub == "status" {
			handleDebugStatus(event)
		}
	})
}

func handleDebugStatus(event *events.ApplicationCommandInteractionCreate) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	vm := proc.GetVoiceManager()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**%s**\n", sys.GetProjectName()))
	sb.WriteString(fmt.Sprintf("Uptime: %s\n", sys.FormatDuration(time.Since(sys.StartupTime).Round(time.Second))))
	sb.WriteString(fmt.Sprintf("Goroutines: %d\n", runtime.NumGoroutine()))
	sb.WriteString(fmt.Sprintf("Heap: %.1f MiB\n", float64(m.HeapAlloc)/1024/1024))
	sb.WriteString(fmt.Sprintf("Voice sessions: %d\n", vm.SessionCount()))
	sb.WriteString(fmt.Sprintf("Metadata cache entries: %d\n", vm.MetadataCacheLen()))

	if sys.DB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if total, err := sys.GetTotalPlayCount(ctx); err == nil {
			sb.WriteString(fmt.Sprintf("Tracks played (all time): %d\n", total))
		}
	}
	if logPath := sys.GetLogPath(); logPath != "" {
		sb.WriteString("Log file: " + logPath + "\n")
	}

	respond(event, sb.String(), true)
}
