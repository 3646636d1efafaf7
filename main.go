package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/redis/go-redis/v9"

	"github.com/otzovist/otzovist/internal"
)

type globals struct {
	DSN        string `env:"DB_DSN" default:"postgres://postgres@localhost:5432/otzovist" help:"Postgres connection string."`
	RedisAddr  string `env:"REDIS_ADDR" default:"localhost:6379" help:"Redis address for the sync lock."`
	Proxies    string `env:"YANDEX_PROXIES" help:"Comma-separated outbound proxy URLs."`
	CaptchaKey string `env:"CAPTCHA_API_KEY" help:"Captcha solving service API key."`
	CaptchaURL string `env:"CAPTCHA_API_URL" default:"https://rucaptcha.com" help:"Captcha solving service endpoint."`
	Verbose    bool   `env:"VERBOSE" help:"Enable debug logging."`
}

type cli struct {
	globals

	Sync    syncCmd    `cmd:"" help:"Sync one source's reviews."`
	SyncAll syncAllCmd `cmd:"" help:"Sync every registered source."`
	Add     addCmd     `cmd:"" help:"Register an organization URL as a source."`
	InitDB  initDBCmd  `cmd:"" name:"init-db" help:"Create the database schema."`
}

func (g globals) proxyList() []string {
	if strings.TrimSpace(g.Proxies) == "" {
		return nil
	}
	parts := strings.Split(g.Proxies, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (g globals) coordinator(ctx context.Context) (*internal.Coordinator, *internal.Store, error) {
	store, err := internal.NewStore(ctx, g.DSN)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(&redis.Options{Addr: g.RedisAddr})
	engine := internal.NewEngine(internal.EngineConfig{
		Proxies:       g.proxyList(),
		CaptchaAPIKey: g.CaptchaKey,
		CaptchaAPIURL: g.CaptchaURL,
		Registry:      internal.NewMetrics(),
	})
	return internal.NewCoordinator(store, rdb, engine), store, nil
}

type syncCmd struct {
	SourceID    int64 `arg:"" help:"Source to sync."`
	Incremental bool  `help:"Insert new reviews only; never delete."`
}

func (c *syncCmd) Run(g *globals, ctx context.Context) error {
	coord, store, err := g.coordinator(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	src, err := store.GetSource(ctx, c.SourceID)
	if err != nil {
		return err
	}

	if c.Incremental {
		src, err = coord.SyncNewReviews(ctx, src)
	} else {
		src, err = coord.SyncReviews(ctx, src)
	}
	if err != nil {
		return err
	}

	fmt.Printf("synced source %d: %d reviews\n", src.ID, src.TotalReviews)
	return nil
}

type syncAllCmd struct {
	Incremental bool `help:"Insert new reviews only; never delete."`
}

func (c *syncAllCmd) Run(g *globals, ctx context.Context) error {
	coord, store, err := g.coordinator(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, outcome := range coord.SyncAllSources(ctx, c.Incremental) {
		if outcome.Err != nil {
			fmt.Printf("source %d: %v\n", outcome.SourceID, outcome.Err)
			continue
		}
		fmt.Printf("source %d: %d reviews\n", outcome.SourceID, outcome.Synced)
	}
	return nil
}

type addCmd struct {
	UserID int64  `arg:"" help:"Owning user."`
	URL    string `arg:"" help:"Organization URL on the map service."`
}

func (c *addCmd) Run(g *globals, ctx context.Context) error {
	store, err := internal.NewStore(ctx, g.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	src, err := store.CreateSource(ctx, c.UserID, c.URL)
	if err != nil {
		return err
	}
	fmt.Printf("registered source %d\n", src.ID)
	return nil
}

type initDBCmd struct{}

func (c *initDBCmd) Run(g *globals, ctx context.Context) error {
	store, err := internal.NewStore(ctx, g.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Init(ctx)
}

func main() {
	var cli cli
	k := kong.Parse(&cli,
		kong.Name("otzovist"),
		kong.Description("Mirrors an organization's map-service reviews into a local store."),
		kong.UsageOnError(),
	)

	if cli.Verbose {
		internal.SetVerbose()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	k.BindTo(ctx, (*context.Context)(nil))
	k.Bind(&cli.globals)
	k.FatalIfErrorf(k.Run())
}
