package app

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"controlbot/internal/config"
	"controlbot/internal/controlbot"
	"controlbot/internal/eventbus"
	"controlbot/internal/storage"
	logx "controlbot/pkg/logx"
)

const blockedReason = "hostile"

// blockKeeper seeds the shared block list and persists runtime additions.
type blockKeeper struct {
	list  *controlbot.BlockList
	file  string
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
}

// seedFile merges the external list. A missing file is not an error.
func (k *blockKeeper) seedFile() (int, error) {
	if strings.TrimSpace(k.file) == "" {
		return 0, nil
	}
	f, err := os.Open(k.file)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return k.list.Seed(f)
}

func (k *blockKeeper) seedStore(ctx context.Context) (int, error) {
	if k.store == nil {
		return 0, nil
	}
	names, err := k.store.Blocked(ctx)
	if err != nil {
		return 0, err
	}
	return k.list.Seed(strings.NewReader(strings.Join(names, "\n")))
}

// install wires the OnAdd hook. The hook runs on the tick goroutine, so the
// write happens in the background.
func (k *blockKeeper) install(ctx context.Context) {
	k.list.OnAdd(func(name string) {
		k.log.Info("adding hostile player to block list", logx.String("nick", name))
		if k.bus != nil {
			k.bus.Publish(eventbus.Event{Type: controlbot.TopicBlocked, Time: time.Now(), Data: name})
		}
		if k.store == nil {
			return
		}
		go func() {
			wctx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
			defer cancel()
			if err := k.store.AddBlocked(wctx, name, blockedReason); err != nil && ctx.Err() == nil {
				k.log.Warn("persist blocked player failed", logx.String("nick", name), logx.Err(err))
			}
		}()
	})
}

// watch re-seeds from the external file whenever it changes.
func (k *blockKeeper) watch(ctx context.Context) error {
	if strings.TrimSpace(k.file) == "" {
		<-ctx.Done()
		return nil
	}
	return config.WatchFile(ctx, k.file, k.log, func() {
		n, err := k.seedFile()
		if err != nil {
			k.log.Warn("block list reload failed", logx.String("path", k.file), logx.Err(err))
			return
		}
		if n > 0 {
			k.log.Info("block list reloaded", logx.Int("added", n), logx.Int("total", k.list.Len()))
		}
	})
}
