package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"calldesk/internal/calls"
	"calldesk/internal/config"
	"calldesk/internal/crm"
	"calldesk/internal/events"
	"calldesk/internal/history"
	"calldesk/internal/integration"
	"calldesk/internal/localstore"
	"calldesk/internal/notify"
	"calldesk/internal/remote"
	"calldesk/internal/session"
	"calldesk/pkg/logger"
	"calldesk/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// localLayout is what the desk persists on the agent's machine.
type localLayout interface {
	history.LocalBackend
	session.DraftStore
}

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDesk()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Env)
	slog.SetDefault(log)
	ctx := logger.With(rootCtx, log)

	var (
		rdb   *redis.Client
		local localLayout = localstore.NewMemory()
	)
	if cfg.UsesRedis() {
		rdb, err = utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		local = localstore.NewRedis(rdb, cfg.Desk.HistoryKey, cfg.Desk.DraftKey)
	} else {
		log.Warn("REDIS_HOST not set; history kept in memory for this run")
	}

	con := newConsole(os.Stdout)
	notices := notify.Multi{con, notify.Log{L: log}}

	mode := history.ModeFor(cfg.Calls.Token)
	storeOpts := history.Options{
		Mode:     mode,
		Local:    local,
		Notifier: notices,
		Logger:   log,
	}
	if mode == history.ModeRemote {
		client, err := remote.NewClient(cfg.Calls.Token, &remote.Config{
			BaseURL: cfg.Calls.URL,
			Timeout: cfg.Calls.Timeout,
		})
		if err != nil {
			log.Error("remote client init failed", "err", err)
			os.Exit(1)
		}
		storeOpts.Remote = client
		storeOpts.OpTimeout = cfg.Calls.Timeout
	}
	store, err := history.NewStore(storeOpts)
	if err != nil {
		log.Error("history init failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	bus := events.NewBus(log)
	if rdb != nil {
		detach := events.NewRedisRelay(rdb, cfg.Desk.EventsChannel, log).Attach(bus)
		defer detach()
	}

	var machine *session.Machine
	hooks := integration.New(integration.Options{
		Bus:    bus,
		CRM:    crm.Disconnected{},
		Logger: log,
		OnContacts: func(id calls.ID, contacts []crm.Contact) {
			if machine != nil {
				machine.ApplyContact(id, contacts)
			}
		},
		OnLogged: store.AttachCRMID,
	})

	machineOpts := session.Options{
		Recorder:        store,
		Drafts:          local,
		Hooks:           hooks,
		Display:         con,
		Notifier:        notices,
		Logger:          log,
		Schema:          cfg.Desk.Schema,
		HoldTickOnStart: cfg.Desk.HoldTickOnStart,
	}
	if rdb != nil {
		machineOpts.Lease = localstore.NewLease(rdb, cfg.Desk.AgentID, 0)
	}
	machine, err = session.NewMachine(machineOpts)
	if err != nil {
		log.Error("session init failed", "err", err)
		os.Exit(1)
	}
	con.m = machine
	con.store = store
	if mode == history.ModeRemote {
		con.local = local
	}

	if err := store.LoadInitial(ctx); err != nil {
		// The store has already surfaced the failure; the desk keeps working on what it has.
		log.Warn("initial history load failed", "err", err)
	}
	if s, ok, err := machine.Recover(ctx); err != nil {
		log.Warn("draft recovery failed", "err", err)
	} else if ok {
		con.printf("recovered %s %s (%s)\n", s.ID, s.CallerName, s.Status)
	}

	log.Info("desk ready", "mode", mode.String(), "redis", cfg.UsesRedis())
	con.printf("%s\n", helpText)
	if err := con.run(ctx, os.Stdin); err != nil {
		log.Error("console failed", "err", err)
	}

	// A live call stays in its draft for the next start.
	hooks.Wait()
	bus.Wait()
	store.Wait()
}
