package home

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/hootworks/hootbot/sys"
)

const (
	catFactApiURL  = "https://catfact.ninja/fact"
	catImageApiURL = "https://api.thecatapi.com/v1/images/search"
)

var catHTTPClient = &http.Client{Timeout: 10 * time.Second}

// CatFact represents a cat fact response from the API
type CatFact struct {
	Fact   string `json:"fact"`
	Length int    `json:"length"`
}

// CatImage represents a cat image response from the API
type CatImage struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func init() {
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "cat",
		Description: "Cat related commands",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "fact",
				Description: "Get a random cat fact",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "image",
				Description: "Get a random cat image",
			},
		},
	}, func(event *events.ApplicationCommandInteractionCreate) {
		data := event.SlashCommandInteractionData()
		subCmd := data.SubCommandName
		if subCmd == nil {
			return
		}

		switch *subCmd {
		case "fact":
			handleCatFact(event)
		case "image":
			handleCatImage(event)
		}
	})
}

// handleCatFact fetches and displays a random cat fact from the API
func handleCatFact(event *events.ApplicationCommandInteractionCreate) {
	resp, err := catHTTPClient.Get(catFactApiURL)
	if err != nil {
		sys.LogCat("Fact API unreachable: %v", err)
		catRespond(event, fmt.Sprintf("The cat fact API is unreachable: %v", err), true)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		sys.LogCat("Fact API returned %d (%s)", resp.StatusCode, resp.Status)
		catRespond(event, fmt.Sprintf("The cat API returned %d (%s).", resp.StatusCode, resp.Status), true)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		sys.LogCat("Failed to read fact response: %v", err)
		catRespond(event, "Could not read the cat fact.", true)
		return
	}

	var data CatFact
	if err := json.Unmarshal(body, &data); err != nil {
		sys.LogCat("Fact response malformed: %v", err)
		catRespond(event, fmt.Sprintf("The cat fact came back malformed: %v", err), true)
		return
	}

	catRespond(event, data.Fact+" 🐱", false)
}

// handleCatImage fetches and displays a random cat image from the API
func handleCatImage(event *events.ApplicationCommandInteractionCreate) {
	resp, err := catHTTPClient.Get(catImageApiURL)
	if err != nil {
		sys.LogCat("Image API unreachable: %v", err)
		catRespond(event, fmt.Sprintf("The cat image API is unreachable: %v", err), true)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		sys.LogCat("Image API returned %d (%s)", resp.StatusCode, resp.Status)
		catRespond(event, fmt.Sprintf("The cat API returned %d (%s).", resp.StatusCode, resp.Status), true)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		sys.LogCat("Failed to read image response: %v", err)
		catRespond(event, "Could not read the cat image.", true)
		return
	}

	var data []CatImage
	if err := json.Unmarshal(body, &data); err != nil || len(data) == 0 {
		sys.LogCat("Image response unusable: err=%v entries=%d", err, len(data))
		catRespond(event, "The cat image API returned nothing usable.", true)
		return
	}

	_ = sys.RespondInteractionContainerV2(*event.Client(), event.ApplicationCommandInteraction,
		sys.NewV2Container(sys.NewMediaGallery(data[0].URL)), false)
}

// catRespond sends a response message using Discord V2 components
func catRespond(event *events.ApplicationCommandInteractionCreate, content string, ephemeral bool) {
	_ = sys.RespondInteractionV2(*event.Client(), event.ApplicationCommandInteraction, content, ephemeral)
}
