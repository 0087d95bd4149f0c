package notify

import (
	"fmt"
	"sort"

	goslack "github.com/slack-go/slack"

	"github.com/cortex-ops/cortex/pkg/services"
)

const maxBlockTextLength = 2900

var severityEmoji = map[string]string{
	"critical": ":rotating_light:",
	"high":     ":red_circle:",
	"medium":   ":large_orange_circle:",
	"low":      ":large_yellow_circle:",
}

// BuildAlertMessage creates Block Kit blocks for one alert.
func BuildAlertMessage(alert services.Alert, dashboardURL string) []goslack.Block {
	emoji := severityEmoji[alert.Severity]
	if emoji == "" {
		emoji = ":warning:"
	}

	header := fmt.Sprintf("%s *%s* on `%s`", emoji, alert.Type, alert.AgentID)
	body := truncateForSlack(alert.Description)

	var blocks []goslack.Block
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
		nil, nil,
	))
	if body != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, body, false, false),
			nil, nil,
		))
	}

	fields := []*goslack.TextBlockObject{
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("*Severity:*\n%s", alert.Severity), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("*Alert ID:*\n%d", alert.ID), false, false),
	}
	if details := alert.DetailsMap(); len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if len(fields) >= 10 { // Slack caps section fields at 10
				break
			}
			fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType,
				fmt.Sprintf("*%s:*\n%v", k, details[k]), false, false))
		}
	}
	blocks = append(blocks, goslack.NewSectionBlock(nil, fields, nil))

	if dashboardURL != "" {
		url := fmt.Sprintf("%s/alerts/%d", dashboardURL, alert.ID)
		btn := goslack.NewButtonBlockElement("", "",
			goslack.NewTextBlockObject(goslack.PlainTextType, "View Alert", false, false))
		btn.URL = url
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}

	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
