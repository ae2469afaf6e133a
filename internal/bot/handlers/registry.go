package handlers

import (
	tgbot "github.com/go-telegram/bot"

	"github.com/tunegrab/tunegrab/internal/telegram"
)

// RegisterAllCommands initializes and returns a map of all available bot
// commands and callback handlers, each configured with its middleware.
func RegisterAllCommands(deps *HandlerDeps) map[string]telegram.RegisteredHandler {
	handlers := make(map[string]telegram.RegisteredHandler)

	handlers["/start"] = telegram.RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "start",
		Handler:     NewStartHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}
	handlers["/cancel"] = telegram.RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "cancel",
		Handler:     NewCancelHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}

	adminMiddleware := []tgbot.Middleware{AdminOnly(deps)}
	adminCallbackMiddleware := []tgbot.Middleware{AdminCallbackOnly(deps)}

	handlers["/panel"] = telegram.RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "panel",
		Handler:     NewPanelHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  adminMiddleware,
	}
	handlers["/stats"] = telegram.RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "stats",
		Handler:     NewStatsHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  adminMiddleware,
	}
	handlers["/broadcast"] = telegram.RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "broadcast",
		Handler:     NewBroadcastHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  adminMiddleware,
	}

	handlers["admin_panel"] = telegram.RegisteredHandler{
		HandlerType: tgbot.HandlerTypeCallbackQueryData,
		Pattern:     "admin_",
		Handler:     NewPanelCallbackHandler(deps),
		MatchType:   tgbot.MatchTypePrefix,
		Middleware:  adminCallbackMiddleware,
	}
	handlers["broadcast_confirm"] = telegram.RegisteredHandler{
		HandlerType: tgbot.HandlerTypeCallbackQueryData,
		Pattern:     "broadcast_",
		Handler:     NewBroadcastCallbackHandler(deps),
		MatchType:   tgbot.MatchTypePrefix,
		Middleware:  adminCallbackMiddleware,
	}
	handlers["checksub"] = telegram.RegisteredHandler{
		HandlerType: tgbot.HandlerTypeCallbackQueryData,
		Pattern:     "checksub:",
		Handler:     NewCheckSubHandler(deps),
		MatchType:   tgbot.MatchTypePrefix,
	}

	return handlers
}
