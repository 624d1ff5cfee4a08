package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/lyra-systems/convbus/internal/dispatcher"
)

func logIngestError(channel string, err error) {
	log.Warn().Err(err).Str("channel", channel).Msg("chat fabric ingest into dispatcher failed")
}

// dispatcherIngestor satisfies chatfabric.Ingestor by feeding every chat
// fabric message into the dispatcher's own Ingest (C8 -> C7 ingest, per the
// one-turn data flow): ledger append, mention/active-mode check, and
// memory fan-out all happen there rather than being duplicated here.
//
// disp is set after dispatcher.New returns, since the dispatcher needs the
// chat fabric hub as its own Broadcaster and the hub needs this ingestor at
// construction time — the two are mutually referential and this indirection
// breaks the cycle.
type dispatcherIngestor struct {
	disp *dispatcher.Dispatcher
}

func (d *dispatcherIngestor) FanOutIngest(ctx context.Context, channel, authorName, content string) {
	if d.disp == nil {
		return
	}
	if err := d.disp.Ingest(ctx, dispatcher.InboundMessage{
		Channel:    channel,
		AuthorName: authorName,
		Content:    content,
	}); err != nil {
		logIngestError(channel, err)
	}
}
