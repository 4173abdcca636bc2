package tui

import (
	"fmt"
	"strings"

	"github.com/kirillkom/corpus-router/internal/core/domain"
)

type command struct {
	name    string
	setting string
	model   string
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return command{}, fmt.Errorf("empty command")
	}
	switch fields[0] {
	case "quit", "exit":
		return command{name: "quit"}, nil
	case "models":
		return command{name: "models"}, nil
	case "set":
		if len(fields) != 3 {
			return command{}, fmt.Errorf("usage: /set <%s|%s|%s> <model>", domain.SettingLLM, domain.SettingRouterLLM, domain.SettingEmbeddingModel)
		}
		return command{name: "set", setting: fields[1], model: fields[2]}, nil
	default:
		return command{}, fmt.Errorf("unknown command /%s", fields[0])
	}
}
