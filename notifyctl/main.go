package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"chirpwire.com/notify"
)

const NotifyCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Chirpwire notification control.

The default urls are:
    api_url: https://api.chirpwire.com
    channel_url: wss://channel.chirpwire.com/notifications

Every option can also come from the environment
(NOTIFY_API_URL, NOTIFY_CHANNEL_URL, NOTIFY_JWT, NOTIFY_CACHE_DIR).

Usage:
    notifyctl whoami [--jwt=<jwt>]
    notifyctl list [--api_url=<api_url>] [--jwt=<jwt>]
        [--page=<page>]
        [--size=<size>]
        [--unseen]
    notifyctl tail [--api_url=<api_url>] [--channel_url=<channel_url>] [--jwt=<jwt>]
        [--event_count=<event_count>]
    notifyctl mark-read [--api_url=<api_url>] [--jwt=<jwt>] <notification_id>
    notifyctl delete [--api_url=<api_url>] [--jwt=<jwt>] <notification_id>
    notifyctl force-sync [--api_url=<api_url>] [--jwt=<jwt>]
        [--page=<page>]
        [--size=<size>]

Options:
    -h --help                    Show this screen.
    --version                    Show version.
    --api_url=<api_url>
    --channel_url=<channel_url>
    --jwt=<jwt>                  Your platform session JWT.
    --page=<page>                Page number [default: 0].
    --size=<size>                Page size [default: 20].
    --unseen                     Only unseen notifications.
    --event_count=<event_count>  Print this many events then exit.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], NotifyCtlVersion)
	if err != nil {
		panic(err)
	}

	config, err := LoadConfig(opts)
	if err != nil {
		Err.Printf("%s\n", err)
		os.Exit(1)
	}

	if whoami_, _ := opts.Bool("whoami"); whoami_ {
		whoami(config)
	} else if list_, _ := opts.Bool("list"); list_ {
		list(config, opts)
	} else if tail_, _ := opts.Bool("tail"); tail_ {
		tail(config, opts)
	} else if markRead_, _ := opts.Bool("mark-read"); markRead_ {
		markRead(config, opts)
	} else if delete_, _ := opts.Bool("delete"); delete_ {
		deleteNotification(config, opts)
	} else if forceSync_, _ := opts.Bool("force-sync"); forceSync_ {
		forceSync(config, opts)
	}
}

func whoami(config *Config) {
	sessionJwt, err := notify.ParseSessionJwtUnverified(config.Jwt)
	if err != nil {
		Err.Printf("Invalid JWT (%s).\n", err)
		os.Exit(1)
	}

	Out.Printf("user_id: %s", sessionJwt.UserId)
	Out.Printf("session_id: %s", sessionJwt.SessionId)
	if sessionJwt.UserName != "" {
		Out.Printf("user_name: %s", sessionJwt.UserName)
	}
}

func list(config *Config, opts docopt.Opts) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newApi(cancelCtx, config)

	page, err := api.GetNotifications(cancelCtx, queryFromOpts(opts))
	if err != nil {
		Err.Printf("List failed (%s).\n", err)
		os.Exit(1)
	}

	printPage(page)
}

// tail connects the channel and prints merged canonical pages as events
// arrive.
func tail(config *Config, opts docopt.Opts) {
	var eventCount int
	if eventCount_, err := opts.Int("--event_count"); err == nil {
		eventCount = eventCount_
	} else {
		eventCount = -1
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auth := &notify.SessionAuth{
		ByJwt:      config.Jwt,
		InstanceId: notify.NewId(),
		AppVersion: fmt.Sprintf("notifyctl %s", NotifyCtlVersion),
	}

	sessionJwt, err := notify.ParseSessionJwtUnverified(config.Jwt)
	if err != nil {
		Err.Printf("Invalid JWT (%s).\n", err)
		os.Exit(1)
	}

	store := openStore(cancelCtx, config)
	defer store.Close()

	api := newApi(cancelCtx, config)

	sync := notify.NewNotificationSyncWithDefaults(
		cancelCtx,
		config.ChannelUrl,
		auth,
		notify.NewCachingClientWithDefaults(api, store, sessionJwt.UserId),
		store,
	)
	defer sync.Close()

	done := make(chan struct{})
	remaining := eventCount
	unsubscribe := sync.Sync.AddPageListener(func(page *notify.NotificationPage) {
		printPage(page)
		if 0 < remaining {
			remaining -= 1
			if remaining == 0 {
				close(done)
			}
		}
	})
	defer unsubscribe()

	if err := sync.Connect(cancelCtx, sessionJwt.SessionId); err != nil {
		// not fatal. reconnect continues in the background.
		Err.Printf("Connect error (%s), retrying.\n", err)
	}

	if _, err := sync.Refresh(cancelCtx, queryFromOpts(opts)); err != nil {
		Err.Printf("Initial fetch failed (%s).\n", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
	case <-sigs:
	}
	glog.Flush()
}

func markRead(config *Config, opts docopt.Opts) {
	notificationId := parseNotificationId(opts)

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newApi(cancelCtx, config)

	record, err := api.MarkAsSeen(cancelCtx, notificationId)
	if err != nil {
		Err.Printf("Mark read failed (%s).\n", err)
		os.Exit(1)
	}
	printRecord(*record)
}

func deleteNotification(config *Config, opts docopt.Opts) {
	notificationId := parseNotificationId(opts)

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newApi(cancelCtx, config)

	if err := api.DeleteNotification(cancelCtx, notificationId); err != nil {
		Err.Printf("Delete failed (%s).\n", err)
		os.Exit(1)
	}
	Out.Printf("Deleted %s.", notificationId)
}

func forceSync(config *Config, opts docopt.Opts) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newApi(cancelCtx, config)

	optimistic := notify.NewOptimisticUpdateManagerWithDefaults(cancelCtx, api)
	defer optimistic.Close()
	syncManager := notify.NewStateSyncManagerWithDefaults(cancelCtx, optimistic)
	defer syncManager.Close()

	page, err := syncManager.ForceSync(cancelCtx, api, queryFromOpts(opts))
	if err != nil {
		Err.Printf("Force sync failed (%s).\n", err)
		os.Exit(1)
	}
	printPage(page)
}

func newApi(ctx context.Context, config *Config) *notify.NotificationApi {
	api := notify.NewNotificationApi(ctx, config.ApiUrl)
	api.SetByJwt(config.Jwt)
	return api
}

func openStore(ctx context.Context, config *Config) notify.Store {
	store, err := notify.NewBadgerStoreWithDefaults(ctx, config.CacheDir)
	if err != nil {
		Err.Printf("Cache open failed (%s), continuing without one.\n", err)
		return notify.NewMemoryStore()
	}
	return store
}

func queryFromOpts(opts docopt.Opts) *notify.NotificationQuery {
	query := notify.DefaultNotificationQuery()
	if page, err := opts.Int("--page"); err == nil {
		query.PageNumber = page
	}
	if size, err := opts.Int("--size"); err == nil && 0 < size {
		query.PageSize = size
	}
	if unseen, _ := opts.Bool("--unseen"); unseen {
		query.UnseenOnly = true
	}
	return query
}

func parseNotificationId(opts docopt.Opts) notify.Id {
	notificationIdStr, _ := opts.String("<notification_id>")
	notificationId, err := notify.ParseId(notificationIdStr)
	if err != nil {
		Err.Printf("Invalid notification_id (%s).\n", err)
		os.Exit(1)
	}
	return notificationId
}

func printPage(page *notify.NotificationPage) {
	Out.Printf(
		"page %d (%d of %d, last=%t)",
		page.PageNumber,
		page.NumberOfElements,
		page.TotalElements,
		page.Last,
	)
	for _, record := range page.Content {
		printRecord(record)
	}
}

func printRecord(record notify.NotificationRecord) {
	seen := " "
	if record.IsSeen {
		seen = "r"
	}
	pending := ""
	if record.IsOptimistic {
		pending = " (pending)"
	}
	Out.Printf(
		"  [%s] %s %s actor=%s content=%s %s%s",
		seen,
		record.NotificationId,
		record.Type,
		record.ActorId,
		record.ContentId,
		record.UpdateDate.Format(time.RFC3339),
		pending,
	)
}
