package mtproto

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"tg-content-pipeline/internal/domain"
	"tg-content-pipeline/internal/infra/metrics"
)

// Fetcher выгружает сообщения каналов через MTProto.
type Fetcher struct {
	client *telegram.Client
	log    zerolog.Logger
}

var (
	_ domain.ChannelSource   = (*Fetcher)(nil)
	_ domain.ChannelResolver = (*Fetcher)(nil)
)

// NewFetcher создаёт MTProto клиент с файловым хранилищем сессии.
func NewFetcher(apiID int, apiHash, sessionFile string, log zerolog.Logger) *Fetcher {
	client := telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionFile},
	})
	return &Fetcher{client: client, log: log}
}

// Poll возвращает сообщения новее водяного знака канала, от старых к новым.
// Повторный вызов до сдвига водяного знака не возвращает ничего нового.
func (f *Fetcher) Poll(ctx context.Context, channel domain.ChannelRecord, limit int, maxAge time.Duration) ([]domain.ContentItem, error) {
	var items []domain.ContentItem
	err := f.client.Run(ctx, func(ctx context.Context) error {
		api := f.client.API()

		start := time.Now()
		history, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer: &tg.InputPeerChannel{
				ChannelID:  channel.TGChannelID,
				AccessHash: channel.AccessHash,
			},
			MinID: int(channel.LastMsgID),
			Limit: limit,
		})
		metrics.ObserveNetworkRequest("mtproto", "messages_get_history", channel.Alias, start, err)
		if err != nil {
			return fmt.Errorf("%w: история канала %s: %v", domain.ErrTransientFetch, channel.Alias, err)
		}

		messages, ok := history.(*tg.MessagesChannelMessages)
		if !ok {
			return fmt.Errorf("%w: неожиданный ответ истории для %s", domain.ErrPermanentFetch, channel.Alias)
		}

		cutoff := time.Time{}
		if maxAge > 0 {
			cutoff = time.Now().UTC().Add(-maxAge)
		}
		for _, raw := range messages.Messages {
			msg, ok := raw.(*tg.Message)
			if !ok {
				continue
			}
			publishedAt := time.Unix(int64(msg.Date), 0).UTC()
			if !cutoff.IsZero() && publishedAt.Before(cutoff) {
				continue
			}
			item := domain.ContentItem{
				ChannelID:   channel.ID,
				TGMsgID:     int64(msg.ID),
				Text:        msg.Message,
				PublishedAt: publishedAt,
				Status:      domain.ItemStatusFetched,
			}
			if views, ok := msg.GetViews(); ok {
				item.Views = views
			}
			if forwards, ok := msg.GetForwards(); ok {
				item.Forwards = forwards
			}
			if reactions, ok := msg.GetReactions(); ok {
				item.Reactions = countReactions(reactions)
			}
			if media, ok := msg.GetMedia(); ok {
				item.HasMedia = true
				item.MediaKind = ClassifyMedia(media)
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// внутри канала обрабатываем от старых к новым, чтобы водяной знак
	// двигался монотонно
	sort.Slice(items, func(i, j int) bool { return items[i].TGMsgID < items[j].TGMsgID })
	return items, nil
}

// ResolvePublic возвращает метаданные публичного канала по алиасу.
func (f *Fetcher) ResolvePublic(ctx context.Context, alias string) (domain.ChannelRecord, error) {
	var record domain.ChannelRecord
	err := f.client.Run(ctx, func(ctx context.Context) error {
		start := time.Now()
		resolved, err := f.client.API().ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
			Username: alias,
		})
		metrics.ObserveNetworkRequest("mtproto", "resolve_username", alias, start, err)
		if err != nil {
			return fmt.Errorf("%w: резолв %s: %v", domain.ErrPermanentFetch, alias, err)
		}
		for _, chat := range resolved.Chats {
			channel, ok := chat.(*tg.Channel)
			if !ok || !channel.Broadcast {
				continue
			}
			record = domain.ChannelRecord{
				TGChannelID: channel.ID,
				AccessHash:  channel.AccessHash,
				Alias:       alias,
				Title:       channel.Title,
			}
			return nil
		}
		return fmt.Errorf("%w: %s не является публичным каналом", domain.ErrPermanentFetch, alias)
	})
	if err != nil {
		return domain.ChannelRecord{}, err
	}
	return record, nil
}

func countReactions(reactions tg.MessageReactions) int {
	total := 0
	for _, result := range reactions.Results {
		total += result.Count
	}
	return total
}

// ClassifyMedia приводит вложение к типизированному перечислению один раз
// на границе источника; потребители не разбирают MTProto-типы повторно.
func ClassifyMedia(media tg.MessageMediaClass) domain.MediaKind {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		return domain.MediaPhoto
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return domain.MediaDocument
		}
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeAudio:
				if a.Voice {
					return domain.MediaVoice
				}
			case *tg.DocumentAttributeVideo:
				if a.RoundMessage {
					return domain.MediaVideoNote
				}
				return domain.MediaVideo
			}
		}
		return domain.MediaDocument
	default:
		return domain.MediaOther
	}
}
