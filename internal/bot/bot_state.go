package bot

import (
	"context"
	"sync"

	"github.com/raine/telegram-recommender-bot/internal/llm"
	"github.com/rs/zerolog/log"
)

type BotState struct {
	bot      *Bot
	mu       sync.Mutex
	sessions map[int64]*UserSession
}

func (bs *BotState) newUserSession(userId int64) (*UserSession, error) {
	ctx, cancel := context.WithCancel(context.Background())
	session := UserSession{
		userId: userId,
		sender: bs.bot.tg,
		inbox:  make(chan SessionMessage, 10), // Buffered to avoid blocking
		ctx:    ctx,
		cancel: cancel,
		vision: llm.VisionStructured,
		text:   llm.TextFast,
	}

	// Restore choices made before a restart
	settings, err := bs.bot.store.GetChatSettings(userId)
	if err != nil {
		log.Warn().Err(err).Int64("userId", userId).Msg("failed to get chat settings")
	} else if settings != nil {
		session.topic = settings.Topic
		if v, err := llm.ParseVisionBackend(settings.Vision); err == nil {
			session.vision = v
		}
		if t, err := llm.ParseTextBackend(settings.Text); err == nil {
			session.text = t
		}
		log.Info().Int64("userId", userId).Msg("loaded chat settings from database")
	}

	return &session, nil
}

func (bs *BotState) getUserSession(userId int64) (*UserSession, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if session, ok := bs.sessions[userId]; ok {
		return session, nil
	}

	session, err := bs.newUserSession(userId)
	if err != nil {
		return nil, err
	}
	// Set the bot as the message handler and start the worker
	session.SetHandler(bs.bot)
	session.StartWorker()
	bs.sessions[userId] = session
	return session, nil
}

func (b *Bot) NewBotState() BotState {
	return BotState{
		bot:      b,
		sessions: make(map[int64]*UserSession),
	}
}

// Shutdown stops all session workers gracefully.
func (bs *BotState) Shutdown() {
	bs.mu.Lock()
	sessions := make([]*UserSession, 0, len(bs.sessions))
	for _, session := range bs.sessions {
		sessions = append(sessions, session)
	}
	bs.mu.Unlock()

	// Stop all workers (outside the lock to avoid blocking)
	for _, session := range sessions {
		session.Stop()
	}
	log.Info().Int("count", len(sessions)).Msg("stopped all session workers")
}
