package tui

import (
	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/ports"
)

type answerStartedMsg struct {
	answer *ports.RoutedAnswer
}

type tokenMsg struct {
	answer *ports.RoutedAnswer
	text   string
}

type streamEndMsg struct {
	answer *ports.RoutedAnswer
	err    error
}

type settingsUpdatedMsg struct {
	update domain.SettingsUpdate
}

type noticeMsg struct {
	text string
}

type errMsg struct {
	err error
}
